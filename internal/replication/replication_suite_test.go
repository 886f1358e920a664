// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package replication_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"go.uber.org/goleak"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/command/builtin"
	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/internal/permission/store"
	"github.com/devkitserver/devkitserver/internal/replication"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestReplication(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Replication Suite")
}

var (
	ctx    context.Context
	loop   *core.Loop
	users  *core.Users
	server *access.Server
	hub    *replication.Hub
	wsURL  string
)

var _ = BeforeEach(func() {
	groups := permission.NewGroupRegistry(
		permission.NewGroup("admin", "Admin", permission.Color{R: 255}, 100, permission.MustParseBranch("*")),
		permission.NewGroup("builders", "Builders", permission.Color{G: 200}, 10, permission.MustParseBranch("core::level.edit")),
	)
	st := store.New(store.NewFileBackend(GinkgoT().TempDir()), groups, store.Options{DefaultGroups: []string{"builders"}})

	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(context.Background())
	loop = core.NewLoop(64)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(ctx)
	}()

	users = core.NewUsers()
	server = access.NewServer(groups, st, users)
	hub = replication.NewHub(server, users, loop)
	server.SetReplicator(hub)

	reg := command.NewRegistry()
	Expect(builtin.Register(reg, server)).To(Succeed())
	handler, err := command.NewHandler(reg, server,
		command.WithOutput(&command.Router{Console: io.Discard, Players: hub}),
		command.WithUsers(users))
	Expect(err).NotTo(HaveOccurred())
	hub.SetChatHandler(handler)

	web := httptest.NewServer(hub)
	wsURL = "ws" + strings.TrimPrefix(web.URL, "http")

	DeferCleanup(func() {
		hub.Close()
		web.Close()
		handler.Close()
		cancel()
		<-loopDone
		Expect(st.Close()).To(Succeed())
	})
})

// peer is a connected client with everything it received.
type peer struct {
	client *replication.Client
	mirror *access.Mirror
	done   chan struct{}
	err    error

	mu      sync.Mutex
	replies []string
	chat    []string
}

func (p *peer) Replies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.replies...)
}

func (p *peer) Chat() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.chat...)
}

func (p *peer) Permissions() []string {
	list, err := p.mirror.Permissions(context.Background())
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, b := range list {
		out = append(out, b.String())
	}
	return out
}

func (p *peer) Memberships() []string {
	list, err := p.mirror.Memberships(context.Background())
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, g := range list {
		out = append(out, g.ID())
	}
	return out
}

func (p *peer) Registered() []string {
	var out []string
	for _, g := range p.mirror.Groups().All() {
		out = append(out, g.ID())
	}
	return out
}

// dial connects userID without waiting for the snapshot.
func dial(userID uint64, name string) *peer {
	p := &peer{mirror: access.NewMirror(userID), done: make(chan struct{})}
	client, err := replication.Dial(ctx, wsURL, p.mirror, name,
		replication.WithReplyFunc(func(text string) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.replies = append(p.replies, text)
		}),
		replication.WithChatFunc(func(_ uint64, from, text string) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.chat = append(p.chat, from+": "+text)
		}))
	Expect(err).NotTo(HaveOccurred())
	p.client = client

	go func() {
		defer close(p.done)
		p.err = client.Run(ctx)
	}()
	DeferCleanup(func() {
		client.Close()
		Eventually(p.done).Should(BeClosed())
	})
	return p
}

// connect dials userID and waits until its snapshot has been applied.
func connect(userID uint64, name string) *peer {
	p := dial(userID, name)
	Eventually(p.Memberships).Should(Equal([]string{"builders"}))
	return p
}

// onMain runs fn on the main loop.
func onMain(fn func(ctx context.Context) error) {
	Expect(loop.Do(ctx, fn)).To(Succeed())
}
