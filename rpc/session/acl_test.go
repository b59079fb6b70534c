package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/stretchr/testify/assert"
)

func TestDomainACL(t *testing.T) {
	tests := []struct {
		name  string
		allow []string
		deny  []string
		host  string
		ok    bool
	}{
		{"no rules", nil, nil, "anything.example.org", true},
		{"wildcard", []string{"*"}, nil, "eos.cern.ch", true},
		{"wildcard ip", []string{"*"}, nil, "10.1.2.3", true},
		{"domain", []string{"cern.ch"}, nil, "eos.cern.ch", true},
		{"domain itself", []string{"cern.ch"}, nil, "CERN.CH", true},
		{"leading dot", []string{".cern.ch"}, nil, "a.b.cern.ch", true},
		{"label boundary", []string{"cern.ch"}, nil, "notcern.ch", false},
		{"neither list", []string{"cern.ch"}, nil, "example.org", false},
		{"deny wins", []string{"*"}, []string{"evil.org"}, "data.evil.org", false},
		{"deny other", []string{"*"}, []string{"evil.org"}, "data.good.org", true},
		{"glob", []string{"data-??.example.org"}, nil, "data-01.example.org", true},
		{"glob mismatch", []string{"data-??.example.org"}, nil, "data-1.example.org", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acl := NewDomainACL(tt.allow, tt.deny)
			err := acl.Check(context.Background(), tt.host)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, common.ErrDomainDenied), "got %v", err)
			}
		})
	}
}

func TestDomainACLIPLiteral(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	acl := NewDomainACL([]string{"127.0.0.1"}, nil)
	assert.NoError(t, acl.Check(ctx, "127.0.0.1"))

	acl = NewDomainACL([]string{"*"}, []string{"127.0.0.1"})
	assert.True(t, errors.Is(acl.Check(ctx, "127.0.0.1"), common.ErrDomainDenied))
}

func TestRedirectWindow(t *testing.T) {
	start := time.Now()
	r := redirectState{windowStart: start}

	assert.Equal(t, 1, r.register(start.Add(time.Second), time.Minute))
	assert.Equal(t, 2, r.register(start.Add(2*time.Second), time.Minute))

	// the window elapsed, the next decision starts over
	assert.Equal(t, 1, r.register(start.Add(2*time.Minute), time.Minute))
	assert.Equal(t, 2, r.register(start.Add(2*time.Minute+time.Second), time.Minute))
}
