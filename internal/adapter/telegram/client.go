// Package telegram implements domain.MediaGateway on top of the gotd client.
// It is the only package that talks to the messaging platform.
package telegram

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tg-filestream/internal/domain"
)

// Options carries the shared settings for all identity clients.
type Options struct {
	AppID      int
	AppHash    string
	SessionDir string

	// LogChannelID is the channel holding the stored files, in the bot-API
	// convention (-100 prefixed).
	LogChannelID int64

	// ReadsPerSession caps outstanding chunk reads on one upstream session.
	ReadsPerSession int64

	Logger *zap.Logger
}

// Client is one bot identity: a gotd client plus the per-DC session pool and
// the resolved log channel. It implements domain.MediaGateway.
type Client struct {
	id    string
	token string
	opts  Options
	log   *zap.Logger

	client *telegram.Client
	api    *tg.Client
	self   domain.BotInfo
	ready  atomic.Bool

	channel tg.InputChannel
	pool    *sessionPool
}

// NewClient creates an identity client. id must be unique and stable; config
// order defines dispatcher tie-breaking.
func NewClient(id, botToken string, opts Options) (*Client, error) {
	if err := os.MkdirAll(opts.SessionDir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create session dir")
	}
	if opts.ReadsPerSession <= 0 {
		opts.ReadsPerSession = 8
	}

	log := opts.Logger.Named("tg").With(zap.String("identity", id))
	client := telegram.NewClient(opts.AppID, opts.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{
			Path: filepath.Join(opts.SessionDir, id+".json"),
		},
		Logger: log.Named("gotd"),
	})

	return &Client{
		id:     id,
		token:  botToken,
		opts:   opts,
		log:    log,
		client: client,
	}, nil
}

// Start connects and authenticates the client, resolves the log channel, and
// keeps the connection alive until ctx is cancelled. It returns once the
// identity is ready to serve (or failed to come up).
func (c *Client) Start(ctx context.Context) error {
	ready := make(chan error, 1)

	go func() {
		err := c.client.Run(ctx, func(ctx context.Context) error {
			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				return errors.Wrap(err, "auth status")
			}
			if !status.Authorized {
				c.log.Info("not authorized, logging in as bot")
				if _, err := c.client.Auth().Bot(ctx, c.token); err != nil {
					return errors.Wrap(err, "bot login")
				}
			}

			c.api = c.client.API()

			me, err := c.client.Self(ctx)
			if err != nil {
				return errors.Wrap(err, "self")
			}
			c.self = domain.BotInfo{
				ID:        me.ID,
				Username:  me.Username,
				FirstName: me.FirstName,
			}

			if err := c.resolveLogChannel(ctx); err != nil {
				return err
			}

			c.pool = newSessionPool(c.client, c.api, c.client.Config().ThisDC, c.opts.ReadsPerSession, c.log)

			c.ready.Store(true)
			c.log.Info("identity ready",
				zap.String("username", c.self.Username),
				zap.Int64("bot_id", c.self.ID))

			select {
			case ready <- nil:
			default:
			}

			<-ctx.Done()
			c.ready.Store(false)
			c.pool.closeAll()
			return ctx.Err()
		})
		if err != nil {
			c.ready.Store(false)
			select {
			case ready <- err:
			default:
			}
		}
	}()

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveLogChannel obtains the access hash for the configured log channel.
func (c *Client) resolveLogChannel(ctx context.Context) error {
	bare := bareChannelID(c.opts.LogChannelID)
	chats, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: bare},
	})
	if err != nil {
		return errors.Wrapf(err, "resolve log channel %d", c.opts.LogChannelID)
	}
	for _, chat := range chats.GetChats() {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == bare {
			c.channel = tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
			return nil
		}
	}
	return errors.Errorf("log channel %d not accessible to this identity", c.opts.LogChannelID)
}

// bareChannelID strips the bot-API -100 prefix from a channel id.
func bareChannelID(id int64) int64 {
	if id < 0 {
		id = -id
		if id > 1000000000000 {
			id -= 1000000000000
		}
	}
	return id
}

// ID implements domain.MediaGateway.
func (c *Client) ID() string { return c.id }

// Ready implements domain.MediaGateway.
func (c *Client) Ready() bool { return c.ready.Load() }

// Self implements domain.MediaGateway.
func (c *Client) Self() domain.BotInfo { return c.self }

// Session implements domain.MediaGateway.
func (c *Client) Session(ctx context.Context, dc int) (domain.UpstreamSession, error) {
	if !c.ready.Load() {
		return nil, errors.Wrap(domain.ErrUpstreamUnavailable, "identity not ready")
	}
	return c.pool.get(ctx, dc)
}

// Invalidate implements domain.MediaGateway.
func (c *Client) Invalidate(dc int) {
	if c.pool != nil {
		c.pool.invalidate(dc)
	}
}
