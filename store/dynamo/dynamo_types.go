package dynamo

import (
	"strings"

	"github.com/velora-app/chatcore/models"
)

type dynamoUserProfile struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	Id          string `dynamodbav:"Id"`
	Provider    string `dynamodbav:"Provider"`
	ProviderId  string `dynamodbav:"ProviderId"`
	DisplayName string `dynamodbav:"DisplayName"`
	Credits     int    `dynamodbav:"Credits"`
	Created     int64  `dynamodbav:"Created"`
}

// Identity rows map an OAuth identity to a user id so login lookups don't
// need a GSI on the profile rows.
type dynamoUserIdent struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	UserId string `dynamodbav:"UserId"`
}

type dynamoKeyRecord struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	UserId    string `dynamodbav:"UserId"`
	PublicKey string `dynamodbav:"PublicKey"`
	Updated   int64  `dynamodbav:"Updated"`
}

type dynamoConversation struct {
	PK            string         `dynamodbav:"PK"`
	SK            string         `dynamodbav:"SK"`
	Id            string         `dynamodbav:"Id"`
	Participants  []string       `dynamodbav:"Participants"`
	Created       int64          `dynamodbav:"Created"`
	Updated       int64          `dynamodbav:"Updated"`
	LastText      string         `dynamodbav:"LastText"`
	LastSenderId  string         `dynamodbav:"LastSenderId"`
	LastTimestamp int64          `dynamodbav:"LastTimestamp"`
	Unread        map[string]int `dynamodbav:"Unread"`
}

type dynamoMessage struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	SenderId   string `dynamodbav:"SenderId"`
	ReceiverId string `dynamodbav:"ReceiverId"`
	Ciphertext string `dynamodbav:"Ciphertext"`
	Timestamp  int64  `dynamodbav:"Timestamp"`
	Read       bool   `dynamodbav:"Read"`
}

func userProfileToDynamo(u models.User) dynamoUserProfile {
	return dynamoUserProfile{
		PK:          "USER#" + u.Id,
		SK:          "PROFILE",
		Id:          u.Id,
		Provider:    u.Provider,
		ProviderId:  u.ProviderId,
		DisplayName: u.DisplayName,
		Credits:     u.Credits,
		Created:     u.Created,
	}
}

func userProfileFromDynamo(du dynamoUserProfile) models.User {
	return models.User{
		Id:          du.Id,
		Provider:    du.Provider,
		ProviderId:  du.ProviderId,
		DisplayName: du.DisplayName,
		Credits:     du.Credits,
		Created:     du.Created,
	}
}

func keyRecordToDynamo(rec models.KeyRecord) dynamoKeyRecord {
	return dynamoKeyRecord{
		PK:        "KEY#" + rec.UserId,
		SK:        "PUBKEY",
		UserId:    rec.UserId,
		PublicKey: rec.PublicKey,
		Updated:   rec.Updated,
	}
}

func keyRecordFromDynamo(dk dynamoKeyRecord) models.KeyRecord {
	return models.KeyRecord{
		UserId:    dk.UserId,
		PublicKey: dk.PublicKey,
		Updated:   dk.Updated,
	}
}

func conversationToDynamo(c models.Conversation) dynamoConversation {
	return dynamoConversation{
		PK:            "CONV#" + c.Id,
		SK:            "META",
		Id:            c.Id,
		Participants:  c.Participants,
		Created:       c.Created,
		Updated:       c.Updated,
		LastText:      c.LastMessage.Text,
		LastSenderId:  c.LastMessage.SenderId,
		LastTimestamp: c.LastMessage.Timestamp,
		Unread:        c.Unread,
	}
}

func conversationFromDynamo(dc dynamoConversation) models.Conversation {
	return models.Conversation{
		Id:           dc.Id,
		Participants: dc.Participants,
		Created:      dc.Created,
		Updated:      dc.Updated,
		LastMessage: models.LastMessage{
			Text:      dc.LastText,
			SenderId:  dc.LastSenderId,
			Timestamp: dc.LastTimestamp,
		},
		Unread: dc.Unread,
	}
}

func messageToDynamo(conversationId string, messageId string, m models.Message) dynamoMessage {
	return dynamoMessage{
		PK:         "CONV#" + conversationId,
		SK:         "MSG#" + messageId,
		SenderId:   m.SenderId,
		ReceiverId: m.ReceiverId,
		Ciphertext: m.Ciphertext,
		Timestamp:  m.Timestamp,
		Read:       m.Read,
	}
}

func messageFromDynamo(dm dynamoMessage) models.Message {
	return models.Message{
		Id:         strings.TrimPrefix(dm.SK, "MSG#"),
		SenderId:   dm.SenderId,
		ReceiverId: dm.ReceiverId,
		Ciphertext: dm.Ciphertext,
		Timestamp:  dm.Timestamp,
		Read:       dm.Read,
	}
}
