package domain

// Message is one chat message within a channel.
//
// Timestamp is an ISO-8601 string assigned by the backend; it is the
// primary ordering key within a channel and doubles as the pagination
// cursor. TranslateContent is only present on messages authored by the
// other side of the conversation.
type Message struct {
	MessageID        string `json:"messageId"`
	ChannelID        string `json:"channelId"`
	UserID           string `json:"userId"`
	Content          string `json:"content"`
	Timestamp        string `json:"timestamp"`
	TranslateContent string `json:"translateContent,omitempty"`
}

// MessageResponse is the history endpoint payload.
type MessageResponse struct {
	Messages []Message `json:"messages"`
}

// MessageParams are optional history query parameters. Nil fields are
// omitted from the request.
type MessageParams struct {
	Before *string
	After  *string
	Limit  *int
}

// Channel is one conversation as listed by the channel directory.
type Channel struct {
	ChannelID              string `json:"channelId"`
	CompanyID              string `json:"companyId"`
	ServiceType            string `json:"serviceType"`
	IsPublic               bool   `json:"isPublic"`
	LatestMessageContent   string `json:"latestMessageContent"`
	LatestMessageTimestamp string `json:"latestMessageTimestamp"`
	DisplayName            string `json:"displayName"`
	UnreadCount            int    `json:"unreadCount"`
}

// ChannelResponse is the channel directory payload.
type ChannelResponse struct {
	Channels         []Channel `json:"channels"`
	PageSize         int       `json:"page_size"`
	LastEvaluatedKey string    `json:"last_evaluated_key,omitempty"`
}
