// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package replication_test

import (
	"context"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/devkitserver/devkitserver/internal/command/builtin"
	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/internal/replication"
)

var kick = permission.MustParseBranch("core::commands.kick")

var _ = Describe("Hub", func() {
	Describe("connecting", func() {
		It("sends the registry and the user's state", func() {
			ann := connect(1, "Ann")

			Expect(ann.Registered()).To(Equal([]string{"admin", "builders"}))
			Expect(ann.Permissions()).To(BeEmpty())
			Expect(ann.mirror.HasPermission(context.Background(), 1, permission.MustParseBranch("core::level.edit"))).To(BeTrue())

			u, online := users.Get(1)
			Expect(online).To(BeTrue())
			Expect(u.Name).To(Equal("Ann"))
			Expect(hub.Connected(1)).To(BeTrue())
		})

		It("rejects a client that does not introduce itself", func() {
			ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = ws.Close() }()
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}

			data, err := replication.Encode(replication.Message{Type: replication.TypeChat, UserID: 1, Text: "hi"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ws.WriteMessage(websocket.BinaryMessage, data)).To(Succeed())

			_, _, err = ws.ReadMessage()
			Expect(err).To(HaveOccurred())
			Expect(hub.Connected(1)).To(BeFalse())
		})

		It("keeps the first connection when a user connects twice", func() {
			connect(1, "Ann")
			second := dial(1, "Ann again")

			Eventually(second.done).Should(BeClosed())
			Expect(second.err).NotTo(HaveOccurred())
			Expect(hub.Connected(1)).To(BeTrue())
		})

		It("takes the user offline when the client leaves", func() {
			ann := connect(1, "Ann")
			ann.client.Close()

			Eventually(func() bool { return hub.Connected(1) }).Should(BeFalse())
			Eventually(func() bool {
				_, online := users.Get(1)
				return online
			}).Should(BeFalse())
		})

		It("keeps a reconnecting user online", func() {
			ann := connect(1, "Ann")

			release := make(chan struct{})
			DeferCleanup(func() {
				select {
				case <-release:
				default:
					close(release)
				}
			})
			Expect(loop.Post(ctx, func(context.Context) { <-release })).To(BeTrue())

			ann.client.Close()
			Eventually(ann.done).Should(BeClosed())
			Consistently(func() bool { return hub.Connected(1) }, "150ms").Should(BeTrue(),
				"the slot is held until the user has left on the main loop")

			close(release)
			Eventually(func() bool { return hub.Connected(1) }).Should(BeFalse())

			connect(1, "Ann")
			Consistently(func() bool {
				_, online := users.Get(1)
				return online
			}, "150ms").Should(BeTrue())
			Expect(hub.Connected(1)).To(BeTrue())
		})

		It("ends every client on Close", func() {
			ann := connect(1, "Ann")
			hub.Close()

			Eventually(ann.done).Should(BeClosed())
			Expect(ann.err).NotTo(HaveOccurred())
		})
	})

	Describe("replicating", func() {
		It("sends grants and memberships only to their user", func() {
			ann := connect(1, "Ann")
			bob := connect(2, "Bob")

			onMain(func(ctx context.Context) error {
				_, err := server.AddPermission(ctx, 1, kick)
				return err
			})
			Eventually(ann.Permissions).Should(Equal([]string{"core::commands.kick"}))

			onMain(func(ctx context.Context) error {
				_, err := server.AddPermissionGroup(ctx, 1, "admin")
				return err
			})
			Eventually(ann.Memberships).Should(Equal([]string{"admin", "builders"}))

			onMain(func(ctx context.Context) error {
				_, err := server.RemovePermission(ctx, 1, kick)
				return err
			})
			Eventually(ann.Permissions).Should(BeEmpty())

			onMain(func(ctx context.Context) error {
				_, err := server.ClearPermissionGroups(ctx, 1)
				return err
			})
			Eventually(ann.Memberships).Should(BeEmpty())

			Expect(bob.Permissions()).To(BeEmpty())
			Expect(bob.Memberships()).To(Equal([]string{"builders"}))
		})

		It("broadcasts registry changes to everyone", func() {
			ann := connect(1, "Ann")
			bob := connect(2, "Bob")

			mods := permission.NewGroup("mods", "Moderators", permission.Color{B: 255}, 50, kick)
			onMain(func(ctx context.Context) error {
				_, err := server.Register(ctx, mods)
				return err
			})
			Eventually(ann.Registered).Should(Equal([]string{"admin", "mods", "builders"}))
			Eventually(bob.Registered).Should(Equal([]string{"admin", "mods", "builders"}))

			onMain(func(ctx context.Context) error {
				_, err := server.SavePermissionGroup(ctx, permission.NewGroup("mods", "Moderators", permission.Color{B: 255}, 5, kick))
				return err
			})
			Eventually(bob.Registered).Should(Equal([]string{"admin", "builders", "mods"}))

			onMain(func(ctx context.Context) error {
				_, err := server.Deregister(ctx, "mods")
				return err
			})
			Eventually(ann.Registered).Should(Equal([]string{"admin", "builders"}))
		})
	})

	Describe("chat", func() {
		It("runs commands and answers the caller", func() {
			ann := connect(1, "Ann")
			onMain(func(ctx context.Context) error {
				_, err := server.AddPermission(ctx, 1, builtin.PermissionsList)
				return err
			})
			Eventually(ann.Permissions).Should(HaveLen(1))

			Expect(ann.client.Chat("/permissions list")).To(Succeed())
			Eventually(ann.Replies).Should(ContainElement(
				ContainSubstring("devkitserver::commands.permissions.list")))
		})

		It("relays chat that is not a command", func() {
			ann := connect(1, "Ann")
			bob := connect(2, "Bob")

			Expect(ann.client.Chat("hello there")).To(Succeed())
			Eventually(bob.Chat).Should(Equal([]string{"Ann: hello there"}))
			Eventually(ann.Chat).Should(Equal([]string{"Ann: hello there"}))
			Expect(bob.Replies()).To(BeEmpty())
		})
	})
})
