// Package lockfile reads and writes the hub discovery file. A running hub
// advertises its registration secret and endpoint URL in a lockfile in
// the user's home directory (or wherever SAMP_HUB points), and clients
// read it back to find the hub.
package lockfile

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/markoxley/altair/samp"
)

// Lockfile keys defined by the profile.
const (
	keySecret  = "samp.secret"
	keyURL     = "samp.hub.xmlrpc.url"
	keyVersion = "samp.profile.version"
)

// ProfileVersion is stamped into lockfiles written by this hub.
const ProfileVersion = "1.3"

const (
	envHub        = "SAMP_HUB"
	stdURLPrefix  = "std-lockurl:"
	defaultName   = ".samp"
	filePerm      = 0o600
	headerComment = "# SAMP Standard Profile lockfile"
)

// Info is the parsed content of a hub lockfile.
type Info struct {
	Secret  string
	URL     string
	Version string
}

// DefaultPath returns the conventional lockfile location in the user's
// home directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	return filepath.Join(home, defaultName), nil
}

// Resolve determines the lockfile path, honouring the SAMP_HUB
// environment variable before falling back to the default location.
// SAMP_HUB carries either a std-lockurl:file:// URL or a bare path.
func Resolve() (string, error) {
	val := os.Getenv(envHub)
	if val == "" {
		return DefaultPath()
	}
	val = strings.TrimPrefix(val, stdURLPrefix)
	if strings.Contains(val, "://") {
		u, err := url.Parse(val)
		if err != nil {
			return "", fmt.Errorf("bad %s value: %w", envHub, err)
		}
		if u.Scheme != "file" {
			return "", fmt.Errorf("unsupported %s scheme %q", envHub, u.Scheme)
		}
		return u.Path, nil
	}
	return val, nil
}

// Write stores the lockfile at path with owner-only permissions. The
// secret inside is the only thing gating hub registration, so the file
// must not be group or world readable.
func Write(path string, info Info) error {
	version := info.Version
	if version == "" {
		version = ProfileVersion
	}
	var b strings.Builder
	b.WriteString(headerComment + "\n")
	b.WriteString(keySecret + "=" + info.Secret + "\n")
	b.WriteString(keyURL + "=" + info.URL + "\n")
	b.WriteString(keyVersion + "=" + version + "\n")
	return os.WriteFile(path, []byte(b.String()), filePerm)
}

// Read parses the lockfile at path. A file without a secret or endpoint
// URL is reported as malformed.
func Read(path string) (*Info, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info := &Info{}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case keySecret:
			info.Secret = strings.TrimSpace(v)
		case keyURL:
			info.URL = strings.TrimSpace(v)
		case keyVersion:
			info.Version = strings.TrimSpace(v)
		}
	}
	if info.Secret == "" || info.URL == "" {
		return nil, fmt.Errorf("%w: lockfile %s lacks secret or url", samp.ErrMalformed, path)
	}
	return info, nil
}

// Remove deletes the lockfile. A missing file is not an error, so Remove
// is safe to call from every shutdown path.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Discover resolves and reads the lockfile in one step. When no hub has
// written one, the failure wraps samp.ErrConnect since it means no hub is
// reachable.
func Discover() (*Info, error) {
	path, err := Resolve()
	if err != nil {
		return nil, err
	}
	info, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no lockfile at %s", samp.ErrConnect, path)
		}
		return nil, err
	}
	return info, nil
}

// Await blocks until a readable lockfile appears at path or the context
// is cancelled. It is used by clients started before the hub. Partial
// writes are tolerated; the watch keeps waiting until the file parses.
func Await(ctx context.Context, path string) (*Info, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return nil, err
	}

	// The file may already be there.
	if info, err := Read(path); err == nil {
		return info, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil, fmt.Errorf("%w: lockfile watch closed", samp.ErrConnect)
			}
			if ev.Name != path {
				continue
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			if info, err := Read(path); err == nil {
				return info, nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil, fmt.Errorf("%w: lockfile watch closed", samp.ErrConnect)
			}
			return nil, err
		}
	}
}
