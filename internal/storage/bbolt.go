package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"arenachat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketRooms    = []byte("rooms")
	bucketMessages = []byte("messages")
	bucketTokens   = []byte("tokens")
	bucketPushSubs = []byte("push_subscriptions")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRooms, bucketMessages, bucketTokens, bucketPushSubs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertRoom saves a room's metadata and moderation state.
func (s *BboltStorage) UpsertRoom(room models.Room) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRooms)
		dbRoom := DBRoom{
			ID:               room.ID,
			Kind:             string(room.Kind),
			Name:             room.Name,
			OwnerID:          room.OwnerID,
			MemberIDs:        room.MemberIDs,
			ModeratorIDs:     room.ModeratorIDs,
			BannedIDs:        room.BannedIDs,
			PinnedMessageIDs: room.PinnedMessageIDs,
			MaxMembers:       room.MaxMembers,
			CreatedAt:        room.CreatedAt,
			LastSeq:          room.LastSeq,
		}
		data, err := dbRoom.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbRoom.Key(), data)
	})
}

// DeleteRoom removes the room record and its message bucket.
func (s *BboltStorage) DeleteRoom(roomID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketRooms).Delete([]byte(roomID)); err != nil {
			return err
		}
		err := tx.Bucket(bucketMessages).DeleteBucket([]byte(roomID))
		if err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		return nil
	})
}

// ListRooms returns all rooms stored in the database.
func (s *BboltStorage) ListRooms() ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRooms)
		return b.ForEach(func(k, v []byte) error {
			var dbRoom DBRoom
			if err := dbRoom.UnmarshalBinary(v); err != nil {
				return err
			}
			rooms = append(rooms, roomFromDB(dbRoom))
			return nil
		})
	})
	return rooms, err
}

// UpsertMessage saves a message under its room keyed by sequence and keeps
// the room's LastSeq in step. Updates (edit, reaction, soft delete) land on
// the same key, so the stored history never grows a second copy.
func (s *BboltStorage) UpsertMessage(message models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if message.RoomID == "" {
			return errors.New("message missing roomID")
		}

		roomBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(message.RoomID))
		if err != nil {
			return fmt.Errorf("failed to create room bucket: %w", err)
		}

		dbMessage := messageToDB(message)
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := roomBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		roomsBucket := tx.Bucket(bucketRooms)
		roomData := roomsBucket.Get([]byte(message.RoomID))
		if roomData == nil {
			return fmt.Errorf("room %s not found for message upsert", message.RoomID)
		}
		var dbRoom DBRoom
		if err := dbRoom.UnmarshalBinary(roomData); err != nil {
			return fmt.Errorf("failed to unmarshal room: %w", err)
		}
		if message.Seq > dbRoom.LastSeq {
			dbRoom.LastSeq = message.Seq
			newData, err := dbRoom.MarshalBinary()
			if err != nil {
				return err
			}
			if err := roomsBucket.Put(dbRoom.Key(), newData); err != nil {
				return err
			}
		}

		return nil
	})
}

// ListMessages returns messages with from <= seq <= to in sequence order.
func (s *BboltStorage) ListMessages(roomID string, from, to int64) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
		if roomBucket == nil {
			return nil
		}

		c := roomBucket.Cursor()

		minKey := make([]byte, 8)
		binary.BigEndian.PutUint64(minKey, uint64(from))
		maxKey := make([]byte, 8)
		binary.BigEndian.PutUint64(maxKey, uint64(to))

		for k, v := c.Seek(minKey); k != nil && bytes.Compare(k, maxKey) <= 0; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, messageFromDB(dbMsg))
		}
		return nil
	})
	return messages, err
}

// LastMessages returns up to count most recent messages in sequence order.
// Used to warm a room's in-memory backlog at startup.
func (s *BboltStorage) LastMessages(roomID string, count int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
		if roomBucket == nil {
			return nil
		}

		c := roomBucket.Cursor()
		for k, v := c.Last(); k != nil && len(messages) < count; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, messageFromDB(dbMsg))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Reverse into ascending sequence order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *BboltStorage) UpsertToken(tokenHash string, identity models.Identity, expiresAt int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		dbToken := &DBToken{
			Hash:        tokenHash,
			IdentityID:  identity.ID,
			DisplayName: identity.DisplayName,
			AvatarURL:   identity.AvatarURL,
			ExpiresAt:   expiresAt,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbToken.Key(), data)
	})
}

func (s *BboltStorage) GetToken(tokenHash string) (models.Identity, int64, error) {
	var (
		identity  models.Identity
		expiresAt int64
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTokens).Get([]byte(tokenHash))
		if data == nil {
			return models.ErrNotFound
		}
		var dbToken DBToken
		if err := dbToken.UnmarshalBinary(data); err != nil {
			return err
		}
		identity = models.Identity{
			ID:          dbToken.IdentityID,
			DisplayName: dbToken.DisplayName,
			AvatarURL:   dbToken.AvatarURL,
		}
		expiresAt = dbToken.ExpiresAt
		return nil
	})
	return identity, expiresAt, err
}

func (s *BboltStorage) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
}

func (s *BboltStorage) UpsertPushSubscription(id, identityID string, subscription []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs)
		dbSub := &DBPushSubscription{
			ID:           id,
			IdentityID:   identityID,
			Subscription: subscription,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) DeletePushSubscription(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubs).Delete([]byte(id))
	})
}

// ListPushSubscriptions returns subscription payloads grouped by identity.
func (s *BboltStorage) ListPushSubscriptions() (map[string][]DBPushSubscription, error) {
	subs := make(map[string][]DBPushSubscription)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs)
		return b.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs[dbSub.IdentityID] = append(subs[dbSub.IdentityID], dbSub)
			return nil
		})
	})
	return subs, err
}

func roomFromDB(dbRoom DBRoom) models.Room {
	return models.Room{
		ID:               dbRoom.ID,
		Kind:             models.RoomKind(dbRoom.Kind),
		Name:             dbRoom.Name,
		OwnerID:          dbRoom.OwnerID,
		MemberIDs:        dbRoom.MemberIDs,
		ModeratorIDs:     dbRoom.ModeratorIDs,
		BannedIDs:        dbRoom.BannedIDs,
		PinnedMessageIDs: dbRoom.PinnedMessageIDs,
		MaxMembers:       dbRoom.MaxMembers,
		CreatedAt:        dbRoom.CreatedAt,
		LastSeq:          dbRoom.LastSeq,
	}
}

func messageToDB(message models.Message) DBMessage {
	dbMessage := DBMessage{
		ID:              message.ID,
		RoomID:          message.RoomID,
		AuthorID:        message.AuthorID,
		Content:         message.Content,
		HTML:            message.HTML,
		Kind:            string(message.Kind),
		Seq:             message.Seq,
		ClientMessageID: message.ClientMessageID,
		CreatedAt:       message.CreatedAt,
		EditedAt:        message.EditedAt,
		DeletedAt:       message.DeletedAt,
		Reactions:       message.Reactions,
	}
	if len(message.Attachments) > 0 {
		dbMessage.Attachments = make([]DBAttachment, len(message.Attachments))
		for i, a := range message.Attachments {
			dbMessage.Attachments[i] = DBAttachment{
				Type:     string(a.Type),
				Name:     a.Name,
				MimeType: a.MimeType,
				FileID:   a.FileID,
			}
		}
	}
	return dbMessage
}

func messageFromDB(dbMsg DBMessage) models.Message {
	msg := models.Message{
		ID:              dbMsg.ID,
		RoomID:          dbMsg.RoomID,
		AuthorID:        dbMsg.AuthorID,
		Content:         dbMsg.Content,
		HTML:            dbMsg.HTML,
		Kind:            models.MessageKind(dbMsg.Kind),
		Seq:             dbMsg.Seq,
		ClientMessageID: dbMsg.ClientMessageID,
		CreatedAt:       dbMsg.CreatedAt,
		EditedAt:        dbMsg.EditedAt,
		DeletedAt:       dbMsg.DeletedAt,
		Reactions:       dbMsg.Reactions,
	}
	if len(dbMsg.Attachments) > 0 {
		msg.Attachments = make([]models.Attachment, len(dbMsg.Attachments))
		for i, a := range dbMsg.Attachments {
			msg.Attachments[i] = models.Attachment{
				Type:     models.AttachmentType(a.Type),
				Name:     a.Name,
				MimeType: a.MimeType,
				FileID:   a.FileID,
			}
		}
	}
	return msg
}
