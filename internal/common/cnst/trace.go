package cnst

// Tracer names used across the services
const (
	TraceBroker = "chatmesh/broker"
	TraceWS     = "chatmesh/ws"
	TraceChat   = "chatmesh/chat"
)

// Common span names
const (
	SpanBrokerBroadcast = "chat.broker.broadcast"
	SpanBrokerReceive   = "chat.broker.receive"
	SpanWSFrame         = "chat.ws.frame"
	SpanChatSend        = "chat.service.send_message"
)

// Common attribute keys
const (
	AttrRoomID     = "chat.room_id"
	AttrUserID     = "chat.user_id"
	AttrServerID   = "chat.server_id"
	AttrEnvelopeID = "chat.envelope_id"
	AttrFrameType  = "chat.frame_type"
	AttrErrorCode  = "chat.error_code"
)
