package store

import (
	"time"

	"github.com/pg-sharding/shardkv/pkg/admission"
)

// ReadType classifies a read for throttling eligibility and queue
// choice. The routing is a closed table, not ad hoc flag checks.
type ReadType int

const (
	ReadNormal ReadType = iota
	ReadFetch
	ReadEager
)

type queueKind int

const (
	queueNormal queueKind = iota
	queueFetch
)

type readRoute struct {
	bypassThrottle bool
	queue          queueKind
}

var readRoutes = map[ReadType]readRoute{
	ReadNormal: {bypassThrottle: false, queue: queueNormal},
	ReadFetch:  {bypassThrottle: false, queue: queueFetch},
	ReadEager:  {bypassThrottle: true, queue: queueNormal},
}

func (rt ReadType) String() string {
	switch rt {
	case ReadFetch:
		return "fetch"
	case ReadEager:
		return "eager"
	default:
		return "normal"
	}
}

func (s *ShardStore) readTimeout(rt ReadType) time.Duration {
	switch rt {
	case ReadFetch:
		return s.cfg.FetchReadTimeout()
	case ReadEager:
		return s.cfg.EagerReadTimeout()
	default:
		return s.cfg.NormalReadTimeout()
	}
}

func (s *ShardStore) admissionFor(q queueKind) *admission.Controller {
	if q == queueFetch {
		return s.fetchAdm
	}
	return s.normalAdm
}
