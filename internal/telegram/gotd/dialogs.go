package gotd

import (
	"context"
	"fmt"
	"strings"

	"github.com/gotd/td/tg"

	tgcore "github.com/host548/telegram-spam-panel/internal/telegram"
	logx "github.com/host548/telegram-spam-panel/pkg/logx"
)

// channelIDBase is the marked-ID offset for channels, matching the
// convention the panel's users know from other Telegram tooling:
// users keep their raw ID, basic groups are negated, channels get the
// -100… prefix.
const channelIDBase int64 = 1000000000000

type peerRef struct {
	peer tg.InputPeerClass
}

func markUserID(id int64) int64    { return id }
func markChatID(id int64) int64    { return -id }
func markChannelID(id int64) int64 { return -(channelIDBase + id) }

// Dialogs lists the account's conversations and classifies each one.
// Entries that don't map onto a known structure are skipped with a
// log line, never failing the whole listing. Successfully listed peers
// are cached so scheduled sends can address them later.
func (c *Client) Dialogs(ctx context.Context, limit int) ([]tgcore.Dialog, error) {
	_, api, err := c.running()
	if err != nil {
		return nil, tgcore.ErrNotConnected
	}

	resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		Limit:      limit,
		OffsetPeer: &tg.InputPeerEmpty{},
	})
	if err != nil {
		return nil, translate(err)
	}

	var (
		users []tg.UserClass
		chats []tg.ChatClass
	)
	switch d := resp.(type) {
	case *tg.MessagesDialogs:
		users, chats = d.Users, d.Chats
	case *tg.MessagesDialogsSlice:
		users, chats = d.Users, d.Chats
	default:
		return nil, fmt.Errorf("unexpected dialogs response %T", resp)
	}

	dialogs := make([]tgcore.Dialog, 0, len(users)+len(chats))

	for _, u := range users {
		user, ok := u.(*tg.User)
		if !ok || user.Self || user.Deleted {
			continue
		}
		name := strings.TrimSpace(user.FirstName + " " + user.LastName)
		if name == "" {
			name = "Unnamed"
		}
		id := markUserID(user.ID)
		c.rememberPeer(id, &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash})
		dialogs = append(dialogs, tgcore.Dialog{
			ID:       id,
			Name:     name,
			Username: user.Username,
			Kind:     tgcore.DialogPrivate,
		})
		if len(dialogs) >= limit {
			return dialogs, nil
		}
	}

	for _, ch := range chats {
		switch chat := ch.(type) {
		case *tg.Chat:
			if chat.Deactivated {
				continue
			}
			id := markChatID(chat.ID)
			c.rememberPeer(id, &tg.InputPeerChat{ChatID: chat.ID})
			dialogs = append(dialogs, tgcore.Dialog{
				ID:   id,
				Name: chat.Title,
				Kind: tgcore.DialogGroup,
			})
		case *tg.Channel:
			kind := tgcore.DialogGroup
			if chat.Broadcast {
				kind = tgcore.DialogChannel
			}
			id := markChannelID(chat.ID)
			c.rememberPeer(id, &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash})
			dialogs = append(dialogs, tgcore.Dialog{
				ID:       id,
				Name:     chat.Title,
				Username: chat.Username,
				Kind:     kind,
			})
		default:
			c.log.Debug("skipping unclassifiable chat entry", logx.String("type", fmt.Sprintf("%T", ch)))
			continue
		}
		if len(dialogs) >= limit {
			break
		}
	}

	return dialogs, nil
}

func (c *Client) rememberPeer(id int64, peer tg.InputPeerClass) {
	c.peerMu.Lock()
	c.peers[id] = peerRef{peer: peer}
	c.peerMu.Unlock()
}

// resolvePeer returns the cached input peer for a marked dialog ID.
// Peers become known by listing dialogs first; sends to never-listed
// peers cannot be addressed without an access hash.
func (c *Client) resolvePeer(id int64) (tg.InputPeerClass, error) {
	c.peerMu.Lock()
	ref, ok := c.peers[id]
	c.peerMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown peer %d (dialogs not listed yet)", id)
	}
	return ref.peer, nil
}
