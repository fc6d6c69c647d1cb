package gotd

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	tgcore "github.com/host548/telegram-spam-panel/internal/telegram"
)

func (c *Client) SendScheduled(ctx context.Context, peerID int64, text string, at time.Time) error {
	_, api, err := c.running()
	if err != nil {
		return tgcore.ErrNotConnected
	}
	peer, err := c.resolvePeer(peerID)
	if err != nil {
		return err
	}

	req := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomID(),
	}
	req.SetScheduleDate(int(at.Unix()))

	if _, err := api.MessagesSendMessage(ctx, req); err != nil {
		return translate(err)
	}
	return nil
}

func (c *Client) SendScheduledFile(ctx context.Context, peerID int64, att tgcore.Attachment, caption string, at time.Time) error {
	_, api, err := c.running()
	if err != nil {
		return tgcore.ErrNotConnected
	}
	peer, err := c.resolvePeer(peerID)
	if err != nil {
		return err
	}

	up := uploader.NewUploader(api)
	file, err := up.FromPath(ctx, att.Path)
	if err != nil {
		return fmt.Errorf("upload %s: %w", att.Path, err)
	}

	name := att.Filename
	if name == "" {
		name = filepath.Base(att.Path)
	}

	var media tg.InputMediaClass
	if att.AsDocument {
		media = &tg.InputMediaUploadedDocument{
			File:     file,
			MimeType: "application/octet-stream",
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeFilename{FileName: name},
			},
		}
	} else {
		media = &tg.InputMediaUploadedPhoto{File: file}
	}

	req := &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    media,
		Message:  caption,
		RandomID: randomID(),
	}
	req.SetScheduleDate(int(at.Unix()))

	if _, err := api.MessagesSendMedia(ctx, req); err != nil {
		return translate(err)
	}
	return nil
}

func randomID() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]) &^ (1 << 63))
}
