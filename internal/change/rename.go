package change

// foldRenames pairs KindDelete and KindAdd records that share a content
// hash into a single KindRename record, the content-hash-based candidate
// pairing spec's change detector calls for. A hash with more than one
// delete or add candidate is left unpaired (treated as ordinary
// delete+add) rather than guessed at, since there is no reliable way to
// pick which pairing is "the" rename.
func foldRenames(records []Record) []Record {
	deletesByHash := map[string][]int{}
	addsByHash := map[string][]int{}
	for i, r := range records {
		switch r.Kind {
		case KindDelete:
			if r.ContentHash != "" {
				deletesByHash[r.ContentHash] = append(deletesByHash[r.ContentHash], i)
			}
		case KindAdd:
			if r.ContentHash != "" {
				addsByHash[r.ContentHash] = append(addsByHash[r.ContentHash], i)
			}
		}
	}

	consumed := map[int]bool{}
	var renames []Record
	for hash, delIdx := range deletesByHash {
		addIdx, ok := addsByHash[hash]
		if !ok || len(delIdx) != 1 || len(addIdx) != 1 {
			continue
		}
		di, ai := delIdx[0], addIdx[0]
		del, add := records[di], records[ai]
		renames = append(renames, Record{
			Kind:        KindRename,
			PathKey:     add.PathKey,
			OldPathKey:  del.PathKey,
			AbsPath:     add.AbsPath,
			Size:        add.Size,
			ModTime:     add.ModTime,
			ContentHash: add.ContentHash,
			Language:    add.Language,
		})
		consumed[di] = true
		consumed[ai] = true
	}

	if len(consumed) == 0 {
		return records
	}

	out := make([]Record, 0, len(records))
	for i, r := range records {
		if consumed[i] {
			continue
		}
		out = append(out, r)
	}
	out = append(out, renames...)
	return out
}
