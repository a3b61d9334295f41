package realtime_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aakashsharma7/code-reviewer/internal/realtime"
)

// fakeMember records delivered events in place of a live websocket.
type fakeMember struct {
	key string

	mu     sync.Mutex
	events []realtime.Event
}

func (m *fakeMember) Key() string { return m.key }

func (m *fakeMember) TrySend(ev realtime.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *fakeMember) received() []realtime.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]realtime.Event, len(m.events))
	copy(out, m.events)
	return out
}

var _ = Describe("Hub", func() {
	var (
		ctx context.Context
		hub *realtime.Hub
	)

	BeforeEach(func() {
		ctx = context.Background()
		hub = realtime.NewHub()
	})

	It("delivers one event to every member of the room", func() {
		a := &fakeMember{key: "a"}
		b := &fakeMember{key: "b"}
		hub.Join(a, realtime.PullRequestRoom(42))
		hub.Join(b, realtime.PullRequestRoom(42))

		hub.Publish(ctx, realtime.PullRequestRoom(42), "review:completed", map[string]any{"review_id": 1})

		Expect(a.received()).To(HaveLen(1))
		Expect(b.received()).To(HaveLen(1))
		Expect(a.received()[0].Event).To(Equal("review:completed"))
	})

	It("does not leak events across rooms", func() {
		a := &fakeMember{key: "a"}
		b := &fakeMember{key: "b"}
		hub.Join(a, realtime.PullRequestRoom(42))
		hub.Join(b, realtime.PullRequestRoom(7))

		hub.Publish(ctx, realtime.PullRequestRoom(42), "review:completed", nil)

		Expect(a.received()).To(HaveLen(1))
		Expect(b.received()).To(BeEmpty())
	})

	It("treats publishing to an empty room as a no-op", func() {
		hub.Publish(ctx, realtime.RepositoryRoom(1), "review:completed", nil)
		Expect(hub.RoomSize(realtime.RepositoryRoom(1))).To(BeZero())
	})

	It("never buffers events for members who join later", func() {
		hub.Publish(ctx, realtime.PullRequestRoom(42), "review:completed", nil)

		late := &fakeMember{key: "late"}
		hub.Join(late, realtime.PullRequestRoom(42))
		Expect(late.received()).To(BeEmpty())
	})

	It("treats repeated joins as a single membership", func() {
		a := &fakeMember{key: "a"}
		hub.Join(a, realtime.AdminRoom)
		hub.Join(a, realtime.AdminRoom)

		Expect(hub.RoomSize(realtime.AdminRoom)).To(Equal(1))

		hub.Publish(ctx, realtime.AdminRoom, "job:update", nil)
		Expect(a.received()).To(HaveLen(1))
	})

	It("treats leaving a never-joined room as a no-op", func() {
		a := &fakeMember{key: "a"}
		hub.Leave(a, realtime.UserRoom(1))
		Expect(hub.RoomSize(realtime.UserRoom(1))).To(BeZero())
	})

	It("garbage-collects a room when its last member leaves", func() {
		a := &fakeMember{key: "a"}
		hub.Join(a, realtime.RepositoryRoom(9))
		Expect(hub.RoomSize(realtime.RepositoryRoom(9))).To(Equal(1))

		hub.Leave(a, realtime.RepositoryRoom(9))
		Expect(hub.RoomSize(realtime.RepositoryRoom(9))).To(BeZero())
	})

	It("removes a disconnecting member from every room", func() {
		a := &fakeMember{key: "a"}
		hub.Join(a, realtime.UserRoom(1))
		hub.Join(a, realtime.RepositoryRoom(2))
		hub.Join(a, realtime.PullRequestRoom(3))

		hub.Disconnect(a)

		Expect(hub.RoomSize(realtime.UserRoom(1))).To(BeZero())
		Expect(hub.RoomSize(realtime.RepositoryRoom(2))).To(BeZero())
		Expect(hub.RoomSize(realtime.PullRequestRoom(3))).To(BeZero())

		hub.Publish(ctx, realtime.UserRoom(1), "job:update", nil)
		Expect(a.received()).To(BeEmpty())
	})
})

var _ = Describe("Client commands", func() {
	It("parses a subscribe command with a numeric id", func() {
		cmd, err := realtime.ParseCommand([]byte(`{"action":"subscribe:pr","id":42}`))
		Expect(err).NotTo(HaveOccurred())

		room, join, err := realtime.RoomForCommand(cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(join).To(BeTrue())
		Expect(room).To(Equal("pr:42"))
	})

	It("parses the legacy action:id suffix form", func() {
		cmd, err := realtime.ParseCommand([]byte(`{"action":"subscribe:repository:7"}`))
		Expect(err).NotTo(HaveOccurred())

		room, join, err := realtime.RoomForCommand(cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(join).To(BeTrue())
		Expect(room).To(Equal("repository:7"))
	})

	It("maps unsubscribe to a leave", func() {
		cmd, err := realtime.ParseCommand([]byte(`{"action":"unsubscribe:pr","id":42}`))
		Expect(err).NotTo(HaveOccurred())

		room, join, err := realtime.RoomForCommand(cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(join).To(BeFalse())
		Expect(room).To(Equal("pr:42"))
	})

	It("rejects unknown actions", func() {
		cmd, err := realtime.ParseCommand([]byte(`{"action":"subscribe:everything","id":1}`))
		Expect(err).NotTo(HaveOccurred())

		_, _, err = realtime.RoomForCommand(cmd)
		Expect(err).To(HaveOccurred())
	})

	It("rejects malformed frames", func() {
		_, err := realtime.ParseCommand([]byte(`{broken`))
		Expect(err).To(HaveOccurred())
	})
})
