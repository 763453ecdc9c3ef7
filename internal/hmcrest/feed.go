// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hmcrest

import (
	"context"
	"encoding/xml"
	"net/url"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/juju/powervm/core/powervm"
)

// PartitionRecord is a partition or VIOS as the session API reports it. The
// UUID addresses the REST resource; ID is the numeric partition identifier
// the command-line tooling works with. Some HMC versions omit the numeric id
// from the feed, in which case HasID is false and the caller must resolve it
// over the command channel.
type PartitionRecord struct {
	UUID  string
	Name  string
	ID    powervm.PartitionID
	HasID bool
}

// Atom feed shapes. Only the fields the lookups need are mapped; namespaces
// vary between HMC versions, so elements are matched by local name.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID      string      `xml:"id"`
	Links   []atomLink  `xml:"link"`
	Content atomContent `xml:"content"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

type atomContent struct {
	Resource resourceBody `xml:",any"`
}

// resourceBody covers ManagedSystem, LogicalPartition and VirtualIOServer
// payloads alike. PartitionID stays a string here: some HMC versions put a
// UUID-shaped value in the element, and a typed field would abort the whole
// feed parse instead of just that one identifier.
type resourceBody struct {
	SystemName    string `xml:"SystemName"`
	PartitionName string `xml:"PartitionName"`
	PartitionID   string `xml:"PartitionID"`
	PartitionUUID string `xml:"PartitionUUID"`
}

func parseFeed(data []byte) (*atomFeed, error) {
	var feed atomFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, errors.Annotate(err, "parsing feed")
	}
	return &feed, nil
}

// uuid extracts the resource UUID from the entry's self link, falling back
// to the Atom id.
func (e atomEntry) uuid() string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "self" {
			if l.Href != "" {
				return lastSegment(l.Href)
			}
		}
	}
	if e.Content.Resource.PartitionUUID != "" {
		return e.Content.Resource.PartitionUUID
	}
	return lastSegment(strings.TrimSpace(e.ID))
}

func lastSegment(href string) string {
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}

// ManagedSystemUUID resolves a managed system name to its resource UUID.
func (s *Session) ManagedSystemUUID(ctx context.Context, name string) (string, error) {
	query := "(SystemName=='" + name + "')"
	path := uomPath + "/ManagedSystem/search/" + url.PathEscape(query)
	data, err := s.get(ctx, path)
	if err != nil {
		return "", errors.Trace(err)
	}
	feed, err := parseFeed(data)
	if err != nil {
		return "", errors.Trace(err)
	}
	if len(feed.Entries) == 0 {
		return "", errors.NotFoundf("managed system %q", name)
	}
	uuid := feed.Entries[0].uuid()
	if uuid == "" {
		return "", errors.Errorf("managed system %q entry carries no identifier", name)
	}
	logger.Debugf("managed system %q is %s", name, uuid)
	return uuid, nil
}

// Partition looks up a logical partition by name within a managed system.
func (s *Session) Partition(ctx context.Context, systemUUID, name string) (PartitionRecord, error) {
	rec, err := s.partitionLookup(ctx, systemUUID, "LogicalPartition", name)
	if err != nil {
		return PartitionRecord{}, errors.Trace(err)
	}
	return rec, nil
}

// VIOS looks up a virtual I/O server by name within a managed system.
func (s *Session) VIOS(ctx context.Context, systemUUID, name string) (PartitionRecord, error) {
	rec, err := s.partitionLookup(ctx, systemUUID, "VirtualIOServer", name)
	if err != nil {
		return PartitionRecord{}, errors.Trace(err)
	}
	return rec, nil
}

func (s *Session) partitionLookup(ctx context.Context, systemUUID, kind, name string) (PartitionRecord, error) {
	path := uomPath + "/ManagedSystem/" + systemUUID + "/" + kind
	data, err := s.get(ctx, path)
	if err != nil {
		return PartitionRecord{}, errors.Trace(err)
	}
	feed, err := parseFeed(data)
	if err != nil {
		return PartitionRecord{}, errors.Trace(err)
	}
	for _, entry := range feed.Entries {
		body := entry.Content.Resource
		if body.PartitionName != name {
			continue
		}
		rec := PartitionRecord{
			UUID: entry.uuid(),
			Name: body.PartitionName,
		}
		if raw := strings.TrimSpace(body.PartitionID); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil {
				logger.Debugf("%s %q reports non-numeric partition id %q", kind, name, raw)
			} else {
				rec.ID = powervm.PartitionID(id)
				rec.HasID = true
			}
		}
		return rec, nil
	}
	return PartitionRecord{}, errors.NotFoundf("%s %q on managed system %s", kind, name, systemUUID)
}
