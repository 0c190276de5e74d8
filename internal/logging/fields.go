package logging

const (
	FieldService    = "service"
	FieldRoomID     = "room_id"
	FieldUserID     = "user_id"
	FieldConnID     = "conn_id"
	FieldRemoteAddr = "remote_addr"
	FieldOrigin     = "origin"
)
