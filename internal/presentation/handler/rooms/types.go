package rooms

import "github.com/hilthontt/roomdrop/internal/domain"

type fileRequest struct {
	Name string `json:"name" msgpack:"name" validate:"max=1024"`
	Type string `json:"type" msgpack:"type" validate:"max=255"`
	Data []byte `json:"data" msgpack:"data"`
}

type shareFilesRequest struct {
	To    []string      `json:"to" msgpack:"to" validate:"dive,max=128"`
	Files []fileRequest `json:"files" msgpack:"files" validate:"dive"`
}

func (r shareFilesRequest) files() []domain.File {
	files := make([]domain.File, len(r.Files))
	for i, f := range r.Files {
		files[i] = domain.File{Name: f.Name, Type: f.Type, Data: f.Data}
	}
	return files
}

type shareTextRequest struct {
	To   []string `json:"to" msgpack:"to" validate:"dive,max=128"`
	Text string   `json:"text" msgpack:"text"`
}
