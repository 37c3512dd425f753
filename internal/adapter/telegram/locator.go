package telegram

import (
	"context"
	"fmt"
	"mime"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tg-filestream/internal/domain"
	"tg-filestream/internal/pkg/retry"
)

// ResolveLocator implements domain.MediaGateway. It fetches the message from
// the log channel through the primary session and extracts the file locator,
// retrying transient platform errors.
func (c *Client) ResolveLocator(ctx context.Context, msgID int64) (*domain.FileLocator, error) {
	if !c.ready.Load() {
		return nil, errors.Wrap(domain.ErrUpstreamUnavailable, "identity not ready")
	}

	var loc *domain.FileLocator
	err := retry.WithBackoff(ctx, c.log, "resolve locator", 3, retry.Schedule(), func() error {
		l, err := c.fetchLocator(ctx, msgID)
		if err != nil {
			if errors.Is(err, domain.ErrUpstreamTransient) {
				return err
			}
			return retry.Permanent(err)
		}
		loc = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loc, nil
}

func (c *Client) fetchLocator(ctx context.Context, msgID int64) (*domain.FileLocator, error) {
	res, err := c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &c.channel,
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: int(msgID)}},
	})
	if err != nil {
		return nil, classifyResolveError(err)
	}

	var msgs []tg.MessageClass
	switch m := res.(type) {
	case *tg.MessagesChannelMessages:
		msgs = m.Messages
	case *tg.MessagesMessages:
		msgs = m.Messages
	case *tg.MessagesMessagesSlice:
		msgs = m.Messages
	}
	if len(msgs) == 0 {
		return nil, errors.Wrapf(domain.ErrReferenceNotFound, "message %d", msgID)
	}

	msg, ok := msgs[0].(*tg.Message)
	if !ok {
		// tg.MessageEmpty: the message has been deleted.
		return nil, errors.Wrapf(domain.ErrReferenceNotFound, "message %d deleted", msgID)
	}

	loc, err := locatorFromMedia(msg.Media)
	if err != nil {
		return nil, err
	}
	loc.MessageDate = time.Unix(int64(msg.Date), 0).UTC()
	return loc, nil
}

// locatorFromMedia extracts a locator from message media, with the filename
// and MIME fallbacks the command surface relies on.
func locatorFromMedia(media tg.MessageMediaClass) (*domain.FileLocator, error) {
	switch m := media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, errors.Wrap(domain.ErrReferenceNotFound, "empty document")
		}
		return locatorFromDocument(doc), nil
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, errors.Wrap(domain.ErrReferenceNotFound, "empty photo")
		}
		return locatorFromPhoto(photo)
	default:
		return nil, errors.Wrap(domain.ErrReferenceNotFound, "message carries no file")
	}
}

func locatorFromDocument(doc *tg.Document) *domain.FileLocator {
	loc := &domain.FileLocator{
		DCID:          doc.DCID,
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
		Size:          doc.Size,
		MimeType:      doc.MimeType,
	}
	for _, attr := range doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
			loc.Filename = fn.FileName
		}
	}
	if loc.MimeType == "" {
		loc.MimeType = "application/octet-stream"
	}
	if loc.Filename == "" {
		loc.Filename = fallbackFilename(doc.ID, loc.MimeType)
	}
	return loc
}

func locatorFromPhoto(photo *tg.Photo) (*domain.FileLocator, error) {
	typ, size := largestPhotoSize(photo.Sizes)
	if typ == "" {
		return nil, errors.Wrap(domain.ErrReferenceNotFound, "photo has no downloadable size")
	}
	return &domain.FileLocator{
		DCID:          photo.DCID,
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     typ,
		IsPhoto:       true,
		Size:          int64(size),
		MimeType:      "image/jpeg",
		Filename:      fmt.Sprintf("photo_%d.jpg", photo.ID),
	}, nil
}

// largestPhotoSize picks the size variant with the most bytes.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (string, int) {
	var (
		bestType string
		bestSize int
	)
	for _, s := range sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			if v.Size > bestSize {
				bestType, bestSize = v.Type, v.Size
			}
		case *tg.PhotoSizeProgressive:
			if n := len(v.Sizes); n > 0 && v.Sizes[n-1] > bestSize {
				bestType, bestSize = v.Type, v.Sizes[n-1]
			}
		}
	}
	return bestType, bestSize
}

// fallbackFilename synthesizes a name for documents uploaded without one.
func fallbackFilename(id int64, mimeType string) string {
	ext := ".bin"
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return fmt.Sprintf("file_%d%s", id, ext)
}

// classifyResolveError maps metadata-fetch errors onto the core error set.
func classifyResolveError(err error) error {
	if rpc, ok := tgerr.As(err); ok {
		switch {
		case rpc.IsType("MESSAGE_IDS_EMPTY"), rpc.IsType("MSG_ID_INVALID"):
			return errors.Wrapf(domain.ErrReferenceNotFound, "rpc: %s", rpc.Type)
		case rpc.IsType("CHANNEL_INVALID"), rpc.IsType("CHANNEL_PRIVATE"):
			return errors.Wrapf(domain.ErrUpstreamUnavailable, "log channel: %s", rpc.Type)
		case rpc.IsType("FLOOD_WAIT"):
			return errors.Wrapf(domain.ErrUpstreamTransient, "flood wait %ds", rpc.Argument)
		case rpc.Code >= 500:
			return errors.Wrapf(domain.ErrUpstreamTransient, "server: %s", rpc.Type)
		default:
			return errors.Wrapf(domain.ErrUpstreamUnavailable, "rpc: %s", rpc.Type)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Wrapf(domain.ErrUpstreamTransient, "transport: %v", err)
}
