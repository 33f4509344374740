// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

package procmon_test

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/procmon"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/gomega"
)

func testLog() *base.LogObject {
	return base.NewSourceLogObject(logrus.New(), "procmon_test", 0)
}

type recordingHandler struct {
	mu   sync.Mutex
	pids []int
}

func (h *recordingHandler) CleanupOnWorkerExit(pid int) {
	h.mu.Lock()
	h.pids = append(h.pids, pid)
	h.mu.Unlock()
}

func (h *recordingHandler) seen(pid int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.pids {
		if p == pid {
			return true
		}
	}
	return false
}

func TestMonitorReportsExitedWorker(t *testing.T) {
	g := NewWithT(t)
	handler := &recordingHandler{}
	m := procmon.New(testLog(), handler)

	cmd := exec.Command("true")
	g.Expect(cmd.Start()).To(Succeed())
	pid := cmd.Process.Pid
	m.Track(pid)
	g.Expect(m.Tracked(pid)).To(BeTrue())
	_ = cmd.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, 5*time.Millisecond)

	g.Eventually(func() bool { return handler.seen(pid) }, time.Second, 5*time.Millisecond).Should(BeTrue())
	g.Expect(m.Tracked(pid)).To(BeFalse())
}

func TestMonitorIgnoresLiveProcess(t *testing.T) {
	g := NewWithT(t)
	handler := &recordingHandler{}
	m := procmon.New(testLog(), handler)
	m.Track(os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()

	g.Expect(handler.seen(os.Getpid())).To(BeFalse())
	g.Expect(m.Tracked(os.Getpid())).To(BeTrue())
}

func TestMonitorReportsToEveryHandler(t *testing.T) {
	g := NewWithT(t)
	worker := &recordingHandler{}
	app := &recordingHandler{}
	m := procmon.New(testLog(), worker, app)

	cmd := exec.Command("true")
	g.Expect(cmd.Start()).To(Succeed())
	pid := cmd.Process.Pid
	m.Track(pid)
	_ = cmd.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, 5*time.Millisecond)

	g.Eventually(func() bool { return worker.seen(pid) }, time.Second, 5*time.Millisecond).Should(BeTrue())
	g.Eventually(func() bool { return app.seen(pid) }, time.Second, 5*time.Millisecond).Should(BeTrue())
}

func TestUntrackPreventsReport(t *testing.T) {
	g := NewWithT(t)
	handler := &recordingHandler{}
	m := procmon.New(testLog(), handler)

	cmd := exec.Command("true")
	g.Expect(cmd.Start()).To(Succeed())
	pid := cmd.Process.Pid
	m.Track(pid)
	_ = cmd.Wait()
	m.Untrack(pid)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()

	g.Expect(handler.seen(pid)).To(BeFalse())
}
