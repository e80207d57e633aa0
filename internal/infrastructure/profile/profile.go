package profile

import (
	"crypto/rand"
	"math/big"

	"github.com/hilthontt/roomdrop/internal/domain"
	"github.com/mssola/useragent"
)

type Persona struct {
	Name string
	Icon string
}

// DefaultPersonas weights Wolf three times.
var DefaultPersonas = []Persona{
	{Name: "Dog", Icon: "🐶"},
	{Name: "Cat", Icon: "🐱"},
	{Name: "Wolf", Icon: "🐺"},
	{Name: "Wolf", Icon: "🐺"},
	{Name: "Wolf", Icon: "🐺"},
	{Name: "Fox", Icon: "🦊"},
	{Name: "Raccoon", Icon: "🦝"},
	{Name: "Lion", Icon: "🦁"},
	{Name: "Tiger", Icon: "🐯"},
	{Name: "Horse", Icon: "🐴"},
	{Name: "Unicorn", Icon: "🦄"},
	{Name: "Zebra", Icon: "🦓"},
	{Name: "Cow", Icon: "🐮"},
}

// Generator builds decorative member profiles.
type Generator struct {
	personas []Persona
	pick     func(n int) int
}

type Option func(*Generator)

func WithPersonas(personas []Persona) Option {
	return func(g *Generator) {
		if len(personas) > 0 {
			g.personas = personas
		}
	}
}

// WithPicker overrides the random persona choice.
func WithPicker(pick func(n int) int) Option {
	return func(g *Generator) {
		if pick != nil {
			g.pick = pick
		}
	}
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		personas: DefaultPersonas,
		pick:     randomIndex,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Profile picks a persona and labels it with the device and browser parsed
// from the User-Agent header.
func (g *Generator) Profile(userAgent string) domain.Profile {
	persona := g.personas[g.pick(len(g.personas))%len(g.personas)]
	device, browser := Labels(userAgent)

	return domain.Profile{
		Name:    persona.Name,
		Icon:    persona.Icon,
		Device:  device,
		Browser: browser,
	}
}

// Labels returns the OS name as the device label and the browser name.
// Both are empty for an empty header.
func Labels(userAgent string) (device, browser string) {
	if userAgent == "" {
		return "", ""
	}

	ua := useragent.New(userAgent)
	device = ua.OSInfo().Name
	browser, _ = ua.Browser()

	return device, browser
}

func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
