// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hostconfig

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/open-source-firmware/go-ptpip-wireless/pkg/ptpip"
)

// FilePersister is a reference KnownDeviceStore backed by a flat file of
// one 32-hex-character device id per line. It exists for cmd/ptpiphostd;
// the core protocol packages never depend on it.
type FilePersister struct {
	path string
	mu   sync.Mutex
	set  map[ptpip.GUID]bool
}

// NewFilePersister loads path if it exists, treating a missing file as an
// empty known-device set.
func NewFilePersister(path string) (*FilePersister, error) {
	p := &FilePersister{path: path, set: make(map[ptpip.GUID]bool)}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hostconfig: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		g, err := ParseGUIDString(line)
		if err != nil {
			return nil, fmt.Errorf("hostconfig: %s: %w", path, err)
		}
		p.set[g] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hostconfig: read %s: %w", path, err)
	}
	return p, nil
}

func (p *FilePersister) IsRegistered(guid ptpip.GUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set[guid]
}

func (p *FilePersister) Register(guid ptpip.GUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.set[guid] {
		return
	}
	p.set[guid] = true
	p.appendLocked(guid)
}

func (p *FilePersister) appendLocked(guid ptpip.GUID) {
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, GUIDString(guid))
}
