package protocol

const (
	// TopicPrefix is prepended to the room id to form the subscription destination.
	TopicPrefix = "/topic/room/"
	// SendPrefix is prepended to the room id to form the publish destination.
	SendPrefix = "/app/sendMessage/"

	// ContentTypeJSON is the content type of published message bodies.
	ContentTypeJSON = "application/json"
)

// Topic returns the destination carrying live messages for roomID.
func Topic(roomID string) string {
	return TopicPrefix + roomID
}

// SendDestination returns the destination messages for roomID are published to.
func SendDestination(roomID string) string {
	return SendPrefix + roomID
}
