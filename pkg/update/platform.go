// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package update

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"
)

// Partition is an OTA image slot
type Partition int

// String returns the slot label
func (p Partition) String() string {
	return fmt.Sprintf("ota_%d", int(p))
}

// Platform is the firmware storage and boot control of the host
type Platform interface {
	// Running returns the partition the current image booted from
	Running() Partition
	// NextUpdatePartition returns the inactive partition updates go to
	NextUpdatePartition() Partition
	// Begin opens a write session that replaces the contents of p
	Begin(p Partition) (io.WriteCloser, error)
	// SetBoot selects p for the next boot, pending validation
	SetBoot(p Partition) error
	// Digest returns the SHA-256 of the contents of p
	Digest(p Partition) ([sha256.Size]byte, error)
	// MarkValid confirms the running image and cancels rollback
	MarkValid() error
	Restart() error
}

// partitionCount is the number of OTA slots
const partitionCount = 2

const otadataFile = "otadata.cbor"

// imageMode makes slot images directly executable
const imageMode = 0o755

// otadata is the persisted boot selection
type otadata struct {
	Boot     Partition `cbor:"boot"`
	Previous Partition `cbor:"previous"`
	// Valid is false from SetBoot until the new image calls MarkValid
	Valid bool `cbor:"valid"`
	// Tried is set on the first boot of an unconfirmed image
	Tried bool `cbor:"tried"`
}

// FilePlatform keeps OTA images as files in a directory:
//
//	ota_0.img, ota_1.img  image slots
//	otadata.cbor          boot selection
//
// An image selected with SetBoot that reaches a second boot without
// MarkValid is rolled back to the previous slot.
type FilePlatform struct {
	dir       string
	onRestart func() error

	mu    sync.Mutex
	state otadata
	// running is fixed at open time
	running Partition
}

// OpenFilePlatform loads the boot selection from dir, creating the directory
// and applying a pending rollback. onRestart is invoked by Restart.
func OpenFilePlatform(dir string, onRestart func() error) (*FilePlatform, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	p := &FilePlatform{
		dir:       dir,
		onRestart: onRestart,
		state:     otadata{Valid: true},
	}

	raw, err := os.ReadFile(p.otadataPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read otadata: %w", err)
	default:
		if err := cbor.Unmarshal(raw, &p.state); err != nil {
			return nil, fmt.Errorf("failed to decode otadata: %w", err)
		}
	}

	if !p.state.Valid {
		if p.state.Tried {
			glog.Warningf("ota: %s was never confirmed, rolling back to %s", p.state.Boot, p.state.Previous)
			p.state = otadata{Boot: p.state.Previous, Previous: p.state.Previous, Valid: true}
		} else {
			p.state.Tried = true
		}
		if err := p.save(); err != nil {
			return nil, err
		}
	}

	p.running = p.state.Boot
	return p, nil
}

func (p *FilePlatform) otadataPath() string {
	return filepath.Join(p.dir, otadataFile)
}

// ImagePath returns the file backing partition part
func (p *FilePlatform) ImagePath(part Partition) string {
	return filepath.Join(p.dir, part.String()+".img")
}

// save replaces otadata atomically. Caller holds mu or owns p.
func (p *FilePlatform) save() error {
	raw, err := cbor.Marshal(p.state)
	if err != nil {
		return fmt.Errorf("failed to encode otadata: %w", err)
	}

	tmp, err := os.CreateTemp(p.dir, otadataFile+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create otadata: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write otadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync otadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close otadata: %w", err)
	}
	if err := os.Rename(tmpName, p.otadataPath()); err != nil {
		return fmt.Errorf("failed to commit otadata: %w", err)
	}

	// the boot selection must survive a power cut right after RESTART
	d, err := os.Open(p.dir)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p.dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", p.dir, err)
	}
	return nil
}

// Running returns the slot selected when the platform was opened
func (p *FilePlatform) Running() Partition {
	return p.running
}

// NextUpdatePartition returns the slot that is not running
func (p *FilePlatform) NextUpdatePartition() Partition {
	return (p.running + 1) % partitionCount
}

// Begin truncates the image of part and returns a writer for it
func (p *FilePlatform) Begin(part Partition) (io.WriteCloser, error) {
	if part == p.running {
		return nil, fmt.Errorf("refusing to overwrite running partition %s", part)
	}
	f, err := os.OpenFile(p.ImagePath(part), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, imageMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", part, err)
	}
	// an existing file keeps its old mode on O_TRUNC
	if err := f.Chmod(imageMode); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to chmod %s: %w", part, err)
	}
	return &imageWriter{f: f}, nil
}

// SetBoot selects part for the next boot
func (p *FilePlatform) SetBoot(part Partition) error {
	if part < 0 || part >= partitionCount {
		return fmt.Errorf("invalid partition %d", int(part))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = otadata{Boot: part, Previous: p.running, Valid: part == p.running}
	return p.save()
}

// Digest hashes the image of part. A missing image hashes as empty.
func (p *FilePlatform) Digest(part Partition) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(p.ImagePath(part))
	if errors.Is(err, os.ErrNotExist) {
		return sha256.Sum256(nil), nil
	}
	if err != nil {
		return sum, fmt.Errorf("failed to open %s: %w", part, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, fmt.Errorf("failed to read %s: %w", part, err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// MarkValid confirms the running image
func (p *FilePlatform) MarkValid() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Valid {
		return nil
	}
	p.state.Valid = true
	p.state.Tried = false
	return p.save()
}

// Boot returns the slot selected for the next boot
func (p *FilePlatform) Boot() Partition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Boot
}

// Executable returns the program to exec for the next boot: the image in the
// boot slot, or the current binary when that slot was never written.
func (p *FilePlatform) Executable() (string, error) {
	path := p.ImagePath(p.Boot())
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return path, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	return exe, nil
}

// Abandon cancels a pending boot selection and keeps the running slot
func (p *FilePlatform) Abandon() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Boot == p.running {
		return nil
	}
	glog.Warningf("ota: abandoning %s, staying on %s", p.state.Boot, p.running)
	p.state = otadata{Boot: p.running, Previous: p.running, Valid: true}
	return p.save()
}

// Restart invokes the restart hook
func (p *FilePlatform) Restart() error {
	if p.onRestart == nil {
		return errors.New("restart not supported")
	}
	return p.onRestart()
}

// imageWriter writes through so Digest sees every chunk, and syncs on Close
type imageWriter struct {
	f *os.File
}

func (w *imageWriter) Write(b []byte) (int, error) {
	return w.f.Write(b)
}

func (w *imageWriter) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
