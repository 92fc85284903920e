// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package update

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/store"
)

// ============================================================
// Fakes
// ============================================================

type sent struct {
	msg  ican.MsgID
	data []byte
}

type fakeBus struct {
	sent   []sent
	errors []ican.DeviceError
}

func (b *fakeBus) Send(msg ican.MsgID, data []byte, request bool) error {
	b.sent = append(b.sent, sent{msg: msg, data: append([]byte(nil), data...)})
	return nil
}

func (b *fakeBus) SendID(id uint32, data []byte, request bool) error {
	return b.Send(ican.MessageOf(id), data, request)
}

func (b *fakeBus) ReportError(e ican.DeviceError) {
	b.errors = append(b.errors, e)
}

type memImage struct {
	buf      *bytes.Buffer
	closed   bool
	writeErr error
}

func (m *memImage) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.buf.Write(p)
}

func (m *memImage) Close() error {
	m.closed = true
	return nil
}

type fakePlatform struct {
	images   [partitionCount]*bytes.Buffer
	sessions []*memImage
	boot     Partition
	valid    int
	restarts int
	beginErr error
	writeErr error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{images: [partitionCount]*bytes.Buffer{{}, {}}}
}

func (p *fakePlatform) Running() Partition             { return 0 }
func (p *fakePlatform) NextUpdatePartition() Partition { return 1 }

func (p *fakePlatform) Begin(part Partition) (io.WriteCloser, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	p.images[part].Reset()
	s := &memImage{buf: p.images[part], writeErr: p.writeErr}
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *fakePlatform) SetBoot(part Partition) error {
	p.boot = part
	return nil
}

func (p *fakePlatform) Digest(part Partition) ([sha256.Size]byte, error) {
	return sha256.Sum256(p.images[part].Bytes()), nil
}

func (p *fakePlatform) MarkValid() error {
	p.valid++
	return nil
}

func (p *fakePlatform) Restart() error {
	p.restarts++
	return nil
}

func frame(msg ican.MsgID, data []byte, request bool) ican.Frame {
	return ican.NewMessage(5, uint8(ican.DeviceRelais), msg, data, request)
}

// ============================================================
// Updater Tests
// ============================================================

func TestUpdater_Init(t *testing.T) {
	p := newFakePlatform()
	u := New(&fakeBus{}, p)
	s := store.NewMemory()

	require.NoError(t, u.Init(s, ican.DeviceRelais))
	require.Equal(t, uint8(ican.DeviceRelais), s.U8(store.KeyType, 0))
	require.Equal(t, 1, p.valid)

	// a configured type is left alone
	require.NoError(t, s.SetU8(store.KeyType, uint8(ican.DeviceButton)))
	require.NoError(t, u.Init(s, ican.DeviceRelais))
	require.Equal(t, uint8(ican.DeviceButton), s.U8(store.KeyType, 0))
}

func TestUpdater_Available(t *testing.T) {
	bus := &fakeBus{}
	u := New(bus, newFakePlatform())

	require.True(t, u.TryHandle(frame(ican.MsgAvailable, nil, true)))
	require.True(t, u.TryHandle(frame(ican.MsgRestart, []byte{byte(ican.UpdateMode)}, false)))
	require.True(t, u.TryHandle(frame(ican.MsgAvailable, nil, true)))
	// a non-request is claimed silently
	require.True(t, u.TryHandle(frame(ican.MsgAvailable, []byte{1}, false)))

	require.Equal(t, []sent{
		{msg: ican.MsgAvailable, data: []byte{byte(ican.Application)}},
		{msg: ican.MsgAvailable, data: []byte{byte(ican.UpdateMode)}},
	}, bus.sent)
}

func TestUpdater_FullUpdate(t *testing.T) {
	bus := &fakeBus{}
	p := newFakePlatform()
	u := New(bus, p)

	image := []byte("ican firmware image, not a multiple of eight")

	u.TryHandle(frame(ican.MsgRestart, []byte{byte(ican.UpdateMode)}, false))
	require.Equal(t, Pending, u.Mode())
	require.Zero(t, p.restarts)

	for off := 0; off < len(image); off += ican.MaxDataLen {
		end := min(off+ican.MaxDataLen, len(image))
		require.True(t, u.TryHandle(frame(ican.MsgFlashWrite, image[off:end], false)))
	}
	require.Equal(t, int64(len(image)), u.Written())

	u.TryHandle(frame(ican.MsgFlashVerify, nil, true))
	want := sha256.Sum256(image)
	require.Len(t, bus.sent, 1)
	require.Equal(t, ican.MsgFlashVerify, bus.sent[0].msg)
	require.Equal(t, want[:VerifyLen], bus.sent[0].data)

	u.TryHandle(frame(ican.MsgRestart, []byte{0}, false))
	require.Equal(t, Normal, u.Mode())
	require.True(t, p.sessions[0].closed)
	require.Equal(t, Partition(1), p.boot)
	require.Equal(t, 1, p.restarts)
	require.Empty(t, bus.errors)
}

func TestUpdater_ReenterDiscardsSession(t *testing.T) {
	p := newFakePlatform()
	u := New(&fakeBus{}, p)

	u.TryHandle(frame(ican.MsgRestart, []byte{byte(ican.UpdateMode)}, false))
	u.TryHandle(frame(ican.MsgFlashWrite, []byte("stale"), false))
	u.TryHandle(frame(ican.MsgRestart, []byte{byte(ican.UpdateMode)}, false))
	u.TryHandle(frame(ican.MsgFlashWrite, []byte("fresh"), false))

	require.Len(t, p.sessions, 2)
	require.True(t, p.sessions[0].closed)
	require.Equal(t, "fresh", p.images[1].String())
	require.Equal(t, int64(5), u.Written())
}

func TestUpdater_PlainRestart(t *testing.T) {
	p := newFakePlatform()
	u := New(&fakeBus{}, p)

	// empty payload means a plain restart
	require.True(t, u.TryHandle(frame(ican.MsgRestart, nil, false)))
	require.Equal(t, 1, p.restarts)
	require.Equal(t, Partition(0), p.boot)
	require.Empty(t, p.sessions)
}

func TestUpdater_WriteWithoutSession(t *testing.T) {
	bus := &fakeBus{}
	p := newFakePlatform()
	u := New(bus, p)

	require.True(t, u.TryHandle(frame(ican.MsgFlashWrite, []byte{1, 2, 3}, false)))
	require.Zero(t, u.Written())
	require.Zero(t, p.images[1].Len())
	require.Empty(t, bus.errors)
}

func TestUpdater_VerifyInNormalMode(t *testing.T) {
	bus := &fakeBus{}
	p := newFakePlatform()
	p.images[1].WriteString("previous image")
	u := New(bus, p)

	u.TryHandle(frame(ican.MsgFlashVerify, nil, true))
	// non-requests are claimed without an answer
	require.True(t, u.TryHandle(frame(ican.MsgFlashVerify, []byte{1}, false)))

	want := sha256.Sum256([]byte("previous image"))
	require.Equal(t, []sent{{msg: ican.MsgFlashVerify, data: want[:VerifyLen]}}, bus.sent)
}

func TestUpdater_VerifyTracksWrites(t *testing.T) {
	bus := &fakeBus{}
	p := newFakePlatform()
	u := New(bus, p)

	u.TryHandle(frame(ican.MsgRestart, []byte{byte(ican.UpdateMode)}, false))

	// each step runs on the same session and verifies once
	tests := []struct {
		name       string
		write      []byte
		sameAsPrev bool
	}{
		{name: "initial"},
		{name: "no write", sameAsPrev: true},
		{name: "after write", write: []byte("chunk")},
		{name: "no write again", sameAsPrev: true},
		{name: "empty write", write: []byte{}, sameAsPrev: true},
		{name: "second write", write: []byte{0}},
	}

	var prev []byte
	for i, tt := range tests {
		if tt.write != nil {
			require.True(t, u.TryHandle(frame(ican.MsgFlashWrite, tt.write, false)), tt.name)
		}
		require.True(t, u.TryHandle(frame(ican.MsgFlashVerify, nil, true)), tt.name)
		require.Len(t, bus.sent, i+1, tt.name)
		got := bus.sent[i].data
		require.Len(t, got, VerifyLen, tt.name)

		if prev != nil {
			if tt.sameAsPrev {
				require.Equal(t, prev, got, tt.name)
			} else {
				require.NotEqual(t, prev, got, tt.name)
			}
		}
		prev = got
	}
	require.Equal(t, Pending, u.Mode())
	require.Len(t, p.sessions, 1)
}

func TestUpdater_Errors(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		bus := &fakeBus{}
		p := newFakePlatform()
		p.beginErr = errors.New("no space")
		u := New(bus, p)

		u.TryHandle(frame(ican.MsgRestart, []byte{byte(ican.UpdateMode)}, false))
		require.Equal(t, Normal, u.Mode())
		require.Equal(t, []ican.DeviceError{{Component: ican.ComponentUpdate, Code: uint8(ican.ErrorFlashOverrun)}}, bus.errors)
	})

	t.Run("write", func(t *testing.T) {
		bus := &fakeBus{}
		p := newFakePlatform()
		p.writeErr = errors.New("io error")
		u := New(bus, p)

		u.TryHandle(frame(ican.MsgRestart, []byte{byte(ican.UpdateMode)}, false))
		u.TryHandle(frame(ican.MsgFlashWrite, []byte{1}, false))
		require.Len(t, bus.errors, 1)
		require.Equal(t, ican.ComponentUpdate, bus.errors[0].Component)
		// the session stays open
		require.Equal(t, Pending, u.Mode())
	})
}

func TestUpdater_IgnoresOtherMessages(t *testing.T) {
	u := New(&fakeBus{}, newFakePlatform())
	for _, msg := range []ican.MsgID{ican.MsgDeviceUID0, ican.MsgButtonEvent, ican.MsgRelais, ican.MsgUpdateSilence} {
		require.False(t, u.TryHandle(frame(msg, nil, true)), msg.String())
	}
}

func TestMode_String(t *testing.T) {
	require.Equal(t, "NORMAL", Normal.String())
	require.Equal(t, "PENDING_UPDATE", Pending.String())
	require.Equal(t, "UNKNOWN", Mode(9).String())
}

// ============================================================
// File Platform Tests
// ============================================================

func TestFilePlatform_UpdateAndConfirm(t *testing.T) {
	dir := t.TempDir()
	restarts := 0
	p, err := OpenFilePlatform(dir, func() error { restarts++; return nil })
	require.NoError(t, err)
	require.Equal(t, Partition(0), p.Running())
	require.Equal(t, Partition(1), p.NextUpdatePartition())

	_, err = p.Begin(0)
	require.Error(t, err, "running partition must not be writable")

	w, err := p.Begin(1)
	require.NoError(t, err)
	_, err = w.Write([]byte("new image"))
	require.NoError(t, err)

	// written data is visible before the session closes
	sum, err := p.Digest(1)
	require.NoError(t, err)
	require.Equal(t, sha256.Sum256([]byte("new image")), sum)

	require.NoError(t, w.Close())
	require.NoError(t, p.SetBoot(1))
	require.NoError(t, p.Restart())
	require.Equal(t, 1, restarts)

	raw, err := os.ReadFile(p.ImagePath(1))
	require.NoError(t, err)
	require.Equal(t, "new image", string(raw))

	// first boot of the new image
	p, err = OpenFilePlatform(dir, nil)
	require.NoError(t, err)
	require.Equal(t, Partition(1), p.Running())
	require.Equal(t, Partition(0), p.NextUpdatePartition())
	require.NoError(t, p.MarkValid())

	// confirmed images stay selected
	p, err = OpenFilePlatform(dir, nil)
	require.NoError(t, err)
	require.Equal(t, Partition(1), p.Running())
}

func TestFilePlatform_Rollback(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenFilePlatform(dir, nil)
	require.NoError(t, err)
	require.NoError(t, p.SetBoot(1))

	// boots once without confirming
	p, err = OpenFilePlatform(dir, nil)
	require.NoError(t, err)
	require.Equal(t, Partition(1), p.Running())

	// the next boot falls back
	p, err = OpenFilePlatform(dir, nil)
	require.NoError(t, err)
	require.Equal(t, Partition(0), p.Running())
	require.Equal(t, Partition(0), p.Boot())
}

func TestFilePlatform_EmptyDigestAndErrors(t *testing.T) {
	p, err := OpenFilePlatform(t.TempDir(), nil)
	require.NoError(t, err)

	sum, err := p.Digest(1)
	require.NoError(t, err)
	require.Equal(t, sha256.Sum256(nil), sum)

	require.Error(t, p.SetBoot(2))
	require.Error(t, p.Restart())
}

func TestFilePlatform_CorruptOtadata(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/"+otadataFile, []byte{0xff, 0x00}, 0o644))
	_, err := OpenFilePlatform(dir, nil)
	require.Error(t, err)
}

func TestFilePlatform_Executable(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)

	t.Run("factory slot without image", func(t *testing.T) {
		p, err := OpenFilePlatform(t.TempDir(), nil)
		require.NoError(t, err)
		exe, err := p.Executable()
		require.NoError(t, err)
		require.Equal(t, self, exe)
	})

	t.Run("committed update", func(t *testing.T) {
		dir := t.TempDir()
		p, err := OpenFilePlatform(dir, func() error { return nil })
		require.NoError(t, err)
		u := New(&fakeBus{}, p)

		u.TryHandle(frame(ican.MsgRestart, []byte{byte(ican.UpdateMode)}, false))
		u.TryHandle(frame(ican.MsgFlashWrite, []byte("garbage!"), false))
		u.TryHandle(frame(ican.MsgRestart, []byte{0}, false))
		require.Equal(t, Partition(1), p.Boot())

		exe, err := p.Executable()
		require.NoError(t, err)
		require.Equal(t, p.ImagePath(1), exe)

		info, err := os.Stat(exe)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(imageMode), info.Mode().Perm())
	})

	t.Run("rewritten image becomes executable", func(t *testing.T) {
		dir := t.TempDir()
		p, err := OpenFilePlatform(dir, nil)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(p.ImagePath(1), []byte("old"), 0o644))

		w, err := p.Begin(1)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		info, err := os.Stat(p.ImagePath(1))
		require.NoError(t, err)
		require.Equal(t, os.FileMode(imageMode), info.Mode().Perm())
	})
}

func TestFilePlatform_Abandon(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenFilePlatform(dir, nil)
	require.NoError(t, err)

	// nothing pending
	require.NoError(t, p.Abandon())
	require.Equal(t, Partition(0), p.Boot())

	require.NoError(t, p.SetBoot(1))
	require.NoError(t, p.Abandon())
	require.Equal(t, Partition(0), p.Boot())

	// the abandoned image is not booted nor confirmed
	p, err = OpenFilePlatform(dir, nil)
	require.NoError(t, err)
	require.Equal(t, Partition(0), p.Running())
	require.NoError(t, p.MarkValid())
	require.Equal(t, Partition(0), p.Boot())
}

func TestFilePlatform_OtadataDurable(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenFilePlatform(dir, nil)
	require.NoError(t, err)

	for _, part := range []Partition{1, 0, 1} {
		require.NoError(t, p.SetBoot(part))
	}

	// only the committed file remains
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Equal(t, []string{otadataFile}, names)

	p, err = OpenFilePlatform(dir, nil)
	require.NoError(t, err)
	require.Equal(t, Partition(1), p.Running())
}
