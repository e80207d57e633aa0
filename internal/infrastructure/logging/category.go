package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	RabbitMQ        Category = "RabbitMQ"
	RequestResponse Category = "RequestResponse"
	WebSocket       Category = "WebSocket"
	Session         Category = "Session"
	Relay           Category = "Relay"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	ExternalService SubCategory = "ExternalService"

	// WebSocket
	Upgrade SubCategory = "Upgrade"
	Read    SubCategory = "Read"
	Write   SubCategory = "Write"

	// Session
	Join       SubCategory = "Join"
	Leave      SubCategory = "Leave"
	KeyAlloc   SubCategory = "KeyAllocation"
	Publishing SubCategory = "Publishing"
	Consuming  SubCategory = "Consuming"

	// Relay
	Share SubCategory = "Share"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	ClientIp     ExtraKey = "ClientIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	BodySize     ExtraKey = "BodySize"
	Path         ExtraKey = "Path"
	Query        ExtraKey = "Query"
	UserAgent    ExtraKey = "UserAgent"
	Latency      ExtraKey = "Latency"
	ErrorMessage ExtraKey = "ErrorMessage"
	Address      ExtraKey = "Address"
	RequestID    ExtraKey = "RequestId"

	ConnID     ExtraKey = "ConnID"
	RoomKey    ExtraKey = "RoomKey"
	Members    ExtraKey = "Members"
	Event      ExtraKey = "Event"
	Kind       ExtraKey = "Kind"
	Recipients ExtraKey = "Recipients"
	Delivered  ExtraKey = "Delivered"
	Attempt    ExtraKey = "Attempt"
	RoutingKey ExtraKey = "RoutingKey"
	Codec      ExtraKey = "Codec"
)
