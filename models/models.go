package models

type User struct {
	Id          string
	Provider    string
	ProviderId  string
	DisplayName string
	Credits     int
	Created     int64
}

// Message is the remotely persisted form of a chat message. Plaintext is
// never stored; Ciphertext is the sealed-box output, base64 encoded.
type Message struct {
	Id         string `json:"id"`
	SenderId   string `json:"senderId"`
	ReceiverId string `json:"receiverId"`
	Ciphertext string `json:"ciphertext"`
	Timestamp  int64  `json:"timestamp"` // sender-assigned, unix milliseconds
	Read       bool   `json:"read"`
}

type LastMessage struct {
	Text      string `json:"text"`
	SenderId  string `json:"senderId"`
	Timestamp int64  `json:"timestamp"`
}

// Conversation metadata for a 2-party thread. Id is canonical: both
// participants derive the same value from the sorted pair of user ids.
type Conversation struct {
	Id           string         `json:"id"`
	Participants []string       `json:"participants"` // sorted, exactly 2
	Created      int64          `json:"created"`
	Updated      int64          `json:"updated"`
	LastMessage  LastMessage    `json:"lastMessage"`
	Unread       map[string]int `json:"unread"` // userId -> unread count
}

// KeyRecord is a public-key directory entry. Only the public half of a
// user's key pair is ever published.
type KeyRecord struct {
	UserId    string
	PublicKey string // base64-encoded X25519 public key
	Updated   int64
}

type Notification struct {
	Type       string `json:"type"`
	SenderId   string `json:"senderId"`
	SenderName string `json:"senderName"`
	ChatId     string `json:"chatId"`
	Message    string `json:"message"` // truncated plaintext preview
	Timestamp  int64  `json:"timestamp"`
	Read       bool   `json:"read"`
}

// ChatEntry is a decrypted transcript row, the only form the UI ever sees.
// Pending marks an optimistic local append not yet confirmed durable.
type ChatEntry struct {
	Id         string `json:"id"`
	SenderId   string `json:"senderId"`
	ReceiverId string `json:"receiverId"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
	Read       bool   `json:"read"`
	Pending    bool   `json:"pending,omitempty"`
}
