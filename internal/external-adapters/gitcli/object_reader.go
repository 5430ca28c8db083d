// Package gitcli reads Git objects through the git command line, so objects
// that only exist in a receive quarantine directory are visible.
package gitcli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrObjectMissing is returned when the object database has no such object
var ErrObjectMissing = errors.New("object missing")

// ObjectReader streams objects from a long-lived `git cat-file --batch`
type ObjectReader struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	closed bool
}

// NewObjectReader starts a batch reader for the repository at dir
func NewObjectReader(dir string) (*ObjectReader, error) {
	cmd := exec.Command("git", "cat-file", "--batch")
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open cat-file stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open cat-file stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start git cat-file: %w", err)
	}

	return &ObjectReader{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}, nil
}

// Read returns the raw object named by rev, usually a full object id
func (r *ObjectReader) Read(rev string) (plumbing.EncodedObject, error) {
	if strings.ContainsAny(rev, "\n") {
		return nil, fmt.Errorf("invalid object name %q", rev)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("object reader is closed")
	}

	if _, err := io.WriteString(r.stdin, rev+"\n"); err != nil {
		return nil, fmt.Errorf("failed to request object %s: %w", rev, err)
	}

	header, err := r.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read object header for %s: %w", rev, err)
	}
	fields := strings.Fields(header)
	if len(fields) == 2 && fields[1] == "missing" {
		return nil, fmt.Errorf("%w: %s", ErrObjectMissing, rev)
	}
	if len(fields) != 3 {
		return nil, fmt.Errorf("unexpected cat-file header %q", strings.TrimSpace(header))
	}

	typ, err := plumbing.ParseObjectType(fields[1])
	if err != nil {
		return nil, fmt.Errorf("unexpected object type for %s: %w", rev, err)
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("unexpected object size for %s: %w", rev, err)
	}

	obj := &plumbing.MemoryObject{}
	obj.SetType(typ)
	obj.SetSize(size)
	if _, err := io.CopyN(obj, r.stdout, size); err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", rev, err)
	}
	// each object is followed by a newline
	if _, err := r.stdout.Discard(1); err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", rev, err)
	}
	return obj, nil
}

// Commit reads and decodes a commit
func (r *ObjectReader) Commit(id string) (*object.Commit, error) {
	obj, err := r.Read(id)
	if err != nil {
		return nil, err
	}
	if obj.Type() != plumbing.CommitObject {
		return nil, fmt.Errorf("object %s is a %s, not a commit", id, obj.Type())
	}
	c := &object.Commit{}
	if err := c.Decode(obj); err != nil {
		return nil, fmt.Errorf("failed to decode commit %s: %w", id, err)
	}
	return c, nil
}

// Tag reads and decodes an annotated tag
func (r *ObjectReader) Tag(id string) (*object.Tag, error) {
	obj, err := r.Read(id)
	if err != nil {
		return nil, err
	}
	if obj.Type() != plumbing.TagObject {
		return nil, fmt.Errorf("object %s is a %s, not a tag", id, obj.Type())
	}
	t := &object.Tag{}
	if err := t.Decode(obj); err != nil {
		return nil, fmt.Errorf("failed to decode tag %s: %w", id, err)
	}
	return t, nil
}

// Close stops the batch process
func (r *ObjectReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	_ = r.stdin.Close()
	if err := r.cmd.Wait(); err != nil {
		return fmt.Errorf("git cat-file exited: %w", err)
	}
	return nil
}
