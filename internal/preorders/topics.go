package preorders

const (
	TopicPreorderCreated   = "preorder.created"
	TopicPreorderUpdated   = "preorder.updated"
	TopicPreorderDeleted   = "preorder.deleted"
	TopicPreorderConfirmed = "preorder.confirmed"
	TopicPreorderCancelled = "preorder.cancelled"
	TopicSaleCreated       = "sale.created"
)

// Topics lists every lifecycle topic, for consumers subscribing to all of them.
func Topics() []string {
	return []string{
		TopicPreorderCreated,
		TopicPreorderUpdated,
		TopicPreorderDeleted,
		TopicPreorderConfirmed,
		TopicPreorderCancelled,
		TopicSaleCreated,
	}
}

// PartitionKey keys messages by preorder id. Order holds only within one topic;
// consumers of several topics must tolerate events of a preorder arriving out of order.
func PartitionKey(preorderID string) []byte { return []byte(preorderID) }
