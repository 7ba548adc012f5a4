package room

// Store path layout. The Room record is split into per-subtree documents so
// every mutation is a partial write scoped to the smallest unit: member
// presence flips touch one member document, session transitions touch the
// session document, and the room core stays immutable after creation (host
// reassignment aside).
//
//	rooms/{roomId}                      room core (id, code, host, settings)
//	rooms/{roomId}/currentSession       session clock record
//	rooms/{roomId}/members/{userId}     one member entry
//	roomcodes/{CODE}                    code -> roomId index
//	chats/{roomId}/{messageId}          chat messages, append-only
//	tasks/{roomId}/{taskId}             shared tasks

func RoomPath(roomID string) string {
	return "rooms/" + roomID
}

func RoomPrefix(roomID string) string {
	return "rooms/" + roomID
}

func SessionPath(roomID string) string {
	return "rooms/" + roomID + "/currentSession"
}

func MemberPath(roomID, userID string) string {
	return "rooms/" + roomID + "/members/" + userID
}

func MembersPrefix(roomID string) string {
	return "rooms/" + roomID + "/members/"
}

func CodePath(code string) string {
	return "roomcodes/" + NormalizeCode(code)
}

func ChatMessagePath(roomID, messageID string) string {
	return "chats/" + roomID + "/" + messageID
}

func ChatPrefix(roomID string) string {
	return "chats/" + roomID + "/"
}

func TaskPath(roomID, taskID string) string {
	return "tasks/" + roomID + "/" + taskID
}

func TasksPrefix(roomID string) string {
	return "tasks/" + roomID + "/"
}
