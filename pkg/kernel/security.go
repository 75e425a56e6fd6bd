// Copyright 2026 The ExpressOS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package kernel

import (
	"context"

	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
)

// DefaultUID is the uid given to applications.
const DefaultUID = 1003

// defaultSFSKey is the static key sealing application secure files. There
// is no key management.
var defaultSFSKey = []byte{
	0xc8, 0x43, 0xae, 0x85, 0x9b, 0x63, 0x4b, 0x72,
	0x1b, 0x14, 0xcf, 0x6d, 0xa8, 0xf9, 0x6f, 0x1d,
}

// DefaultCredential returns the credential of a new application.
func DefaultCredential() Credential {
	return Credential{UID: DefaultUID, SFSKey: append([]byte(nil), defaultSFSKey...)}
}

// SecurityPolicy decides what a thread may do.
type SecurityPolicy interface {
	// CanAccessFile is consulted when t opens a secure file whose leading
	// pages are header.
	CanAccessFile(t *Thread, header []byte) bool

	// CanCreateVBinderChannel is consulted when t registers a vbinder
	// channel.
	CanCreateVBinderChannel(t *Thread, label, permission int32) bool
}

// AllowAll is a SecurityPolicy that allows everything.
type AllowAll struct{}

// CanAccessFile implements SecurityPolicy.CanAccessFile.
func (AllowAll) CanAccessFile(*Thread, []byte) bool { return true }

// CanCreateVBinderChannel implements SecurityPolicy.CanCreateVBinderChannel.
func (AllowAll) CanCreateVBinderChannel(*Thread, int32, int32) bool { return true }

// SecurityManager applies the policy and tracks which process owns the
// screen. Only the active process may write its screen buffers.
type SecurityManager struct {
	SecurityPolicy

	active *Process
}

// NewSecurityManager returns a manager applying policy, or AllowAll if
// policy is nil.
func NewSecurityManager(policy SecurityPolicy) *SecurityManager {
	if policy == nil {
		policy = AllowAll{}
	}
	return &SecurityManager{SecurityPolicy: policy}
}

// ActiveProcess returns the process that owns the screen, or nil.
func (s *SecurityManager) ActiveProcess() *Process {
	return s.active
}

// OnActiveProcessChanged hands the screen to p.
func (s *SecurityManager) OnActiveProcessChanged(ctx context.Context, p *Process) {
	if s.active == p {
		return
	}
	if s.active != nil && s.active.ScreenEnabled {
		setScreenAccess(ctx, s.active, hostarch.Read)
		s.active.ScreenEnabled = false
	}
	setScreenAccess(ctx, p, hostarch.ReadWrite)
	p.ScreenEnabled = true
	s.active = p
	log.Debugf("Screen handed to %v", p)
}

func (s *SecurityManager) onProcessExit(p *Process) {
	if s.active == p {
		s.active = nil
	}
}

// setScreenAccess changes the access of every screen buffer mapping of p.
func setScreenAccess(ctx context.Context, p *Process, access hostarch.AccessType) {
	for _, r := range p.as.Regions() {
		i, ok := r.Mappable.(*fs.Inode)
		if !ok || i.Kind() != fs.KindScreenBuffer {
			continue
		}
		if !p.as.UpdateAccessRightRange(ctx, r.Start, r.Size, access) {
			log.Warningf("Cannot change the access of screen buffer %v in %v", &r, p)
		}
	}
}
