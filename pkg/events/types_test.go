package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaykit/relay/pkg/models"
)

func TestSubscriptionMatches(t *testing.T) {
	scope := func(ch, topic, topic2 int64) models.Scope {
		s := models.Scope{}
		if ch > 0 {
			s.ChannelID = &ch
		}
		if topic > 0 {
			s.TopicID = &topic
		}
		if topic2 > 0 {
			s.TopicID2 = &topic2
		}
		return s
	}

	tests := []struct {
		name  string
		sub   *Subscription
		scope models.Scope
		want  bool
	}{
		{"nil subscription matches all", nil, scope(1, 2, 0), true},
		{"empty subscription matches all", &Subscription{}, scope(1, 2, 0), true},
		{"channel match", &Subscription{Channels: []int64{1}}, scope(1, 2, 0), true},
		{"channel miss", &Subscription{Channels: []int64{9}}, scope(1, 2, 0), false},
		{"topic match", &Subscription{Topics: []int64{2}}, scope(1, 2, 0), true},
		{"topic matches second move scope", &Subscription{Topics: []int64{3}}, scope(1, 2, 3), true},
		{"topic miss", &Subscription{Topics: []int64{9}}, scope(1, 2, 3), false},
		{"channel or topic composes", &Subscription{Channels: []int64{9}, Topics: []int64{2}}, scope(1, 2, 0), true},
		{"no scope fields, filtered subscription", &Subscription{Channels: []int64{1}}, models.Scope{}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.sub.Matches(tc.scope))
		})
	}
}
