package catalog

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strings"
)

const moMagic = 0x950412de

// MO compiles the translated, non-obsolete entries into the binary gettext format. The header
// is stored as the translation of the empty message id.
func (c *Catalog) MO() []byte {
	type pair struct{ id, str string }
	var pairs []pair
	if len(c.Header) > 0 {
		pairs = append(pairs, pair{"", c.Header.String()})
	}
	for _, e := range c.Entries {
		if e.Obsolete || !e.Translated() {
			continue
		}
		id := e.key()
		str := e.Str
		if e.IDPlural != "" {
			id += "\x00" + e.IDPlural
			str = strings.Join(e.StrPlural, "\x00")
		}
		pairs = append(pairs, pair{id, str})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	n := uint32(len(pairs))
	const headerSize = 28
	idTable := uint32(headerSize)
	strTable := idTable + 8*n
	data := strTable + 8*n

	var ids, strs bytes.Buffer
	idOffsets := make([]uint32, 0, 2*n)
	strOffsets := make([]uint32, 0, 2*n)
	for _, p := range pairs {
		idOffsets = append(idOffsets, uint32(len(p.id)), data+uint32(ids.Len()))
		ids.WriteString(p.id)
		ids.WriteByte(0)
	}
	strBase := data + uint32(ids.Len())
	for _, p := range pairs {
		strOffsets = append(strOffsets, uint32(len(p.str)), strBase+uint32(strs.Len()))
		strs.WriteString(p.str)
		strs.WriteByte(0)
	}

	var out bytes.Buffer
	for _, v := range []uint32{moMagic, 0, n, idTable, strTable, 0, data} {
		_ = binary.Write(&out, binary.LittleEndian, v)
	}
	_ = binary.Write(&out, binary.LittleEndian, idOffsets)
	_ = binary.Write(&out, binary.LittleEndian, strOffsets)
	out.Write(ids.Bytes())
	out.Write(strs.Bytes())
	return out.Bytes()
}

// WriteMO writes the compiled catalog atomically.
func (c *Catalog) WriteMO(path string) error {
	return writeAtomic(path, c.MO())
}
