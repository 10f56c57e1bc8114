package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/internal/presence"
	"github.com/weiawesome/wes-io-talk/internal/repository"
	"github.com/weiawesome/wes-io-talk/internal/upload"
	"github.com/weiawesome/wes-io-talk/pkg/pubsub"
)

func TestSendMessageDeliversToOnlineReceiver(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	repo := repository.NewMemoryMessageRepository()
	pub := &recordingPublisher{}
	svc := NewDeliveryService(repo, reg, WithDeliveryPublisher(pub))

	bob := connect(reg, "bob")

	msg, err := svc.SendMessage(ctx, "alice", "bob", Content{Text: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	var ev domain.MessageEvent
	require.True(t, bob.Last(domain.MsgTypeNewMessage, &ev))
	require.NotNil(t, ev.Message.Text)
	assert.Equal(t, "hi", *ev.Message.Text)
	assert.Equal(t, "alice", ev.Message.SenderID)
	assert.Equal(t, msg.ID, ev.Message.ID)

	stored, err := repo.FindByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", *stored.Text)

	assert.Equal(t, []string{pubsub.EventMessageSent}, pub.Types())
}

func TestSendMessageToOfflineReceiverIsStored(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryMessageRepository()
	svc := NewDeliveryService(repo, presence.NewRegistry())

	msg, err := svc.SendMessage(ctx, "alice", "bob", Content{Text: "later"})
	require.NoError(t, err)

	history, err := svc.History(ctx, "bob", "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryMessageRepository()
	svc := NewDeliveryService(repo, presence.NewRegistry())

	_, err := svc.SendMessage(ctx, "alice", "bob", Content{Text: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	_, err = svc.SendMessage(ctx, "alice", "", Content{Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	history, err := svc.History(ctx, "alice", "bob", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSendMessagePersistenceFailureSkipsDelivery(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	svc := NewDeliveryService(failingRepo{repository.NewMemoryMessageRepository()}, reg)

	bob := connect(reg, "bob")

	_, err := svc.SendMessage(ctx, "alice", "bob", Content{Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Zero(t, bob.Count(domain.MsgTypeNewMessage))
}

func TestSendImageMessage(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	repo := repository.NewMemoryMessageRepository()

	svc := NewDeliveryService(repo, reg, WithUploader(stubUploader{url: "/uploads/images/x.png"}))
	msg, err := svc.SendMessage(ctx, "alice", "bob", Content{ImageData: "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	require.NotNil(t, msg.Image)
	assert.Equal(t, "/uploads/images/x.png", *msg.Image)
	assert.Nil(t, msg.Text)
}

func TestSendImageUploadErrors(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryMessageRepository()

	svc := NewDeliveryService(repo, presence.NewRegistry(), WithUploader(stubUploader{err: errors.New("s3 unavailable")}))
	_, err := svc.SendMessage(ctx, "alice", "bob", Content{Text: "look", ImageData: "AAAA"})
	assert.ErrorIs(t, err, domain.ErrUploadFailed)

	svc = NewDeliveryService(repo, presence.NewRegistry(), WithUploader(stubUploader{err: upload.ErrUnsupportedImage}))
	_, err = svc.SendMessage(ctx, "alice", "bob", Content{ImageData: "AAAA"})
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	svc = NewDeliveryService(repo, presence.NewRegistry())
	_, err = svc.SendMessage(ctx, "alice", "bob", Content{ImageData: "AAAA"})
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	history, err := svc.History(ctx, "alice", "bob", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRecallMessage(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	repo := repository.NewMemoryMessageRepository()
	pub := &recordingPublisher{}
	svc := NewDeliveryService(repo, reg, WithDeliveryPublisher(pub))

	bob := connect(reg, "bob")
	msg, err := svc.SendMessage(ctx, "alice", "bob", Content{Text: "oops"})
	require.NoError(t, err)

	recalled, err := svc.RecallMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.True(t, recalled.IsRecalled)
	assert.Nil(t, recalled.Text)
	assert.Nil(t, recalled.Image)

	var ev domain.MessageEvent
	require.True(t, bob.Last(domain.MsgTypeMessageRecalled, &ev))
	assert.Equal(t, msg.ID, ev.Message.ID)
	assert.True(t, ev.Message.IsRecalled)
	assert.Nil(t, ev.Message.Text)

	// recalling again succeeds without a second broadcast
	again, err := svc.RecallMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.True(t, again.IsRecalled)
	assert.Equal(t, 1, bob.Count(domain.MsgTypeMessageRecalled))
	assert.Equal(t, []string{pubsub.EventMessageSent, pubsub.EventMessageRecalled}, pub.Types())
}

func TestConcurrentRecallBroadcastsOnce(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	pub := &recordingPublisher{}
	svc := NewDeliveryService(repository.NewMemoryMessageRepository(), reg, WithDeliveryPublisher(pub))

	bob := connect(reg, "bob")
	msg, err := svc.SendMessage(ctx, "alice", "bob", Content{Text: "oops"})
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecallMessage(ctx, msg.ID, "alice")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, bob.Count(domain.MsgTypeMessageRecalled))
	assert.Equal(t, []string{pubsub.EventMessageSent, pubsub.EventMessageRecalled}, pub.Types())
}

func TestRecallByNonSenderIsForbidden(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	repo := repository.NewMemoryMessageRepository()
	svc := NewDeliveryService(repo, reg)

	msg, err := svc.SendMessage(ctx, "alice", "bob", Content{Text: "mine"})
	require.NoError(t, err)

	_, err = svc.RecallMessage(ctx, msg.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	stored, err := repo.FindByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsRecalled)
	require.NotNil(t, stored.Text)
	assert.Equal(t, "mine", *stored.Text)
}

func TestRecallUnknownMessage(t *testing.T) {
	svc := NewDeliveryService(repository.NewMemoryMessageRepository(), presence.NewRegistry())
	_, err := svc.RecallMessage(context.Background(), "nope", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHistoryLimit(t *testing.T) {
	ctx := context.Background()
	svc := NewDeliveryService(repository.NewMemoryMessageRepository(), presence.NewRegistry(), WithHistoryLimit(2))

	for _, text := range []string{"1", "2", "3"} {
		_, err := svc.SendMessage(ctx, "alice", "bob", Content{Text: text})
		require.NoError(t, err)
	}

	msgs, err := svc.History(ctx, "bob", "alice", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "2", *msgs[0].Text)
	assert.Equal(t, "3", *msgs[1].Text)

	_, err = svc.History(ctx, "bob", "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
}
