package ws

const (
	UserUpdateEvent  = "update:user"
	UsersUpdateEvent = "update:users"
	ShareFilesEvent  = "share:files"
	ShareTextEvent   = "share:text"

	AckEvent   = "ack"
	ErrorEvent = "error"
)
