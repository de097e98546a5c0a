package tunnel

// Keyspace layout: everything for a room lives under one root so the
// empty-room collection can remove it in a single delete.
//
//	rooms/<room>/users/<sessionID>   presence entries
//	rooms/<room>/messages/<msgID>    message stream
//	rooms/<room>/locked              lock flag

func roomPath(room string) string {
	return "rooms/" + room
}

func usersPath(room string) string {
	return roomPath(room) + "/users"
}

func userPath(room, sessionID string) string {
	return usersPath(room) + "/" + sessionID
}

func messagesPath(room string) string {
	return roomPath(room) + "/messages"
}

func messagePath(room, id string) string {
	return messagesPath(room) + "/" + id
}

func lockedPath(room string) string {
	return roomPath(room) + "/locked"
}
