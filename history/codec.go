package history

import (
	"encoding/binary"
	"fmt"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
	"github.com/GIScience/oshdb-sub001/protocol"
)

// Cell blob layout, TLV all the way down:
//
//	G{ uvarint levelID, type byte, E{ varint id, V{...}... }... }
//	V{ varint version, varint timestamp, varint changeset, visible byte, T{ uvarint key, uvarint value }... }
const (
	litCell    = 'G'
	litEntity  = 'E'
	litVersion = 'V'
	litTag     = 'T'
)

func Encode(c *Cell) []byte {
	body := binary.AppendUvarint(nil, c.ID.LevelID())
	body = append(body, byte(c.Type))
	for i := range c.Entities {
		body = appendEntity(body, &c.Entities[i])
	}
	return protocol.Record(litCell, body)
}

func appendEntity(into []byte, e *Entity) []byte {
	bookmark, into := protocol.OpenHeader(into, litEntity)
	into = binary.AppendVarint(into, e.ID)
	for i := range e.Versions {
		into = appendVersion(into, &e.Versions[i])
	}
	protocol.CloseHeader(into, bookmark)
	return into
}

func appendVersion(into []byte, v *Version) []byte {
	body := binary.AppendVarint(nil, int64(v.Version))
	body = binary.AppendVarint(body, v.Timestamp)
	body = binary.AppendVarint(body, v.Changeset)
	if v.Visible {
		body = append(body, 1)
	} else {
		body = append(body, 0)
	}
	for _, t := range v.Tags {
		tag := binary.AppendUvarint(nil, uint64(t.Key))
		tag = binary.AppendUvarint(tag, uint64(t.Value))
		body = protocol.Append(body, litTag, tag)
	}
	return protocol.Append(into, litVersion, body)
}

func decodeErr(format string, a ...any) error {
	return fmt.Errorf("%w: %s", oshdb_errors.ErrCellDecode, fmt.Sprintf(format, a...))
}

// Decode parses a cell blob. Malformed input yields an error wrapping
// oshdb_errors.ErrCellDecode.
func Decode(data []byte) (*Cell, error) {
	body, rest, err := protocol.TakeWary(litCell, data)
	if err != nil {
		return nil, decodeErr("cell record: %v", err)
	}
	if len(rest) != 0 {
		return nil, decodeErr("%d trailing bytes", len(rest))
	}
	lid, n := binary.Uvarint(body)
	if n <= 0 || len(body) < n+1 {
		return nil, decodeErr("cell header")
	}
	c := &Cell{ID: grid.FromLevelID(lid), Type: EntityType(body[n])}
	if !c.Type.Valid() {
		return nil, decodeErr("entity type %d", body[n])
	}
	body = body[n+1:]
	for len(body) > 0 {
		var ent []byte
		ent, body, err = protocol.TakeWary(litEntity, body)
		if err != nil {
			return nil, decodeErr("entity record: %v", err)
		}
		e, err := decodeEntity(ent)
		if err != nil {
			return nil, err
		}
		c.Entities = append(c.Entities, e)
	}
	return c, nil
}

func decodeEntity(body []byte) (e Entity, err error) {
	id, n := binary.Varint(body)
	if n <= 0 {
		return e, decodeErr("entity id")
	}
	e.ID = id
	body = body[n:]
	for len(body) > 0 {
		var ver []byte
		ver, body, err = protocol.TakeWary(litVersion, body)
		if err != nil {
			return e, decodeErr("entity %d version record: %v", id, err)
		}
		v, err := decodeVersion(ver)
		if err != nil {
			return e, decodeErr("entity %d: %v", id, err)
		}
		e.Versions = append(e.Versions, v)
	}
	return e, nil
}

func decodeVersion(body []byte) (v Version, err error) {
	var fields [3]int64
	for i := range fields {
		x, n := binary.Varint(body)
		if n <= 0 {
			return v, fmt.Errorf("version field %d", i)
		}
		fields[i] = x
		body = body[n:]
	}
	if len(body) == 0 {
		return v, fmt.Errorf("visibility flag")
	}
	v.Version = int32(fields[0])
	v.Timestamp = fields[1]
	v.Changeset = fields[2]
	v.Visible = body[0] != 0
	body = body[1:]
	for len(body) > 0 {
		var tag []byte
		tag, body, err = protocol.TakeWary(litTag, body)
		if err != nil {
			return v, fmt.Errorf("tag record: %v", err)
		}
		k, n := binary.Uvarint(tag)
		if n <= 0 {
			return v, fmt.Errorf("tag key")
		}
		val, m := binary.Uvarint(tag[n:])
		if m <= 0 {
			return v, fmt.Errorf("tag value")
		}
		v.Tags = append(v.Tags, Tag{Key: uint32(k), Value: uint32(val)})
	}
	return v, nil
}
