package lock

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// hostLookupTimeout bounds the DNS round trips made while resolving the
// fully-qualified host name.
const hostLookupTimeout = 2 * time.Second

// Identity identifies a lock owner: the host, the process and the task
// within the process. Go has no goroutine identity, so the task is a random
// value minted per Mutex.
type Identity struct {
	Host string
	PID  int
	Task string
}

// NewIdentity returns an identity for a new owner in this process.
func NewIdentity() Identity {
	return Identity{
		Host: Hostname(),
		PID:  os.Getpid(),
		Task: uuid.NewString(),
	}
}

// String joins the identity into the owner token stored in Redis.
func (i Identity) String() string {
	return fmt.Sprintf("%s:%d:%s", i.Host, i.PID, i.Task)
}

var (
	hostOnce sync.Once
	hostName string
)

// Hostname returns the fully-qualified host name when it can be resolved and
// the short name otherwise. It is resolved once per process and never fails.
func Hostname() string {
	hostOnce.Do(func() {
		hostName = resolveHostname(os.Hostname, lookupFQDN)
	})
	return hostName
}

// resolveHostname walks the fallback chain: fqdn(short), short, "localhost".
func resolveHostname(short func() (string, error), fqdn func(string) (string, bool)) string {
	name, err := short()
	if err != nil || name == "" {
		return "localhost"
	}
	if full, ok := fqdn(name); ok {
		return full
	}
	return name
}

// lookupFQDN asks the resolver for the canonical name of host, then tries a
// reverse lookup of its addresses. Only dotted names are accepted.
func lookupFQDN(host string) (string, bool) {
	if strings.Contains(host, ".") {
		return host, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), hostLookupTimeout)
	defer cancel()

	resolver := net.DefaultResolver
	if cname, err := resolver.LookupCNAME(ctx, host); err == nil {
		if full, ok := dotted(cname); ok {
			return full, true
		}
	}

	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return "", false
	}
	for _, addr := range addrs {
		names, err := resolver.LookupAddr(ctx, addr)
		if err != nil {
			continue
		}
		for _, name := range names {
			if full, ok := dotted(name); ok && strings.HasPrefix(full, host+".") {
				return full, true
			}
		}
	}
	return "", false
}

func dotted(name string) (string, bool) {
	name = strings.TrimSuffix(name, ".")
	return name, strings.Contains(name, ".")
}
