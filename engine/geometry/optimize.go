package geometry

// OptimizationFlags toggles the index/vertex passes. Enabled passes always run in the order remap, cache, fetch,
// since each later pass consumes the index buffer produced by the earlier ones.
type OptimizationFlags struct {
	// Remap merges vertices whose full attribute tuples are identical.
	Remap bool
	// VertexCache reorders triangles for post-transform cache reuse.
	VertexCache bool
	// Fetch reorders vertices by first use in the index buffer.
	Fetch bool
}

// AllOptimizations enables every pass.
func AllOptimizations() OptimizationFlags {
	return OptimizationFlags{Remap: true, VertexCache: true, Fetch: true}
}

// vertexCacheSize is the simulated post-transform cache size used by the triangle reordering.
const vertexCacheSize = 16

// optimize runs the enabled passes over the stream and returns the final index buffer.
func optimize(s *vertexStream, indices []uint32, flags OptimizationFlags) []uint32 {
	if flags.Remap {
		indices = remapDuplicates(s, indices)
	}
	if flags.VertexCache {
		indices = tipsify(indices, s.len(), vertexCacheSize)
	}
	if flags.Fetch {
		indices = optimizeFetch(s, indices)
	}
	return indices
}

// remapDuplicates collapses vertices with identical attributes into one and rewrites the indices.
// Vertices no index refers to are dropped.
func remapDuplicates(s *vertexStream, indices []uint32) []uint32 {
	remap := make([]uint32, s.len())
	for i := range remap {
		remap[i] = unused
	}

	firstSeen := make(map[vertexIdentity]uint32, s.len())
	next := uint32(0)
	out := make([]uint32, len(indices))
	for i, idx := range indices {
		if remap[idx] == unused {
			id := s.identity(int(idx))
			if dst, ok := firstSeen[id]; ok {
				remap[idx] = dst
			} else {
				firstSeen[id] = next
				remap[idx] = next
				next++
			}
		}
		out[i] = remap[idx]
	}

	// Duplicates map onto an already-assigned slot; only the first source vertex of each slot is moved.
	owner := make([]uint32, len(remap))
	claimed := make([]bool, next)
	for old, dst := range remap {
		owner[old] = unused
		if dst != unused && !claimed[dst] {
			claimed[dst] = true
			owner[old] = dst
		}
	}
	s.permute(owner, int(next))
	return out
}

// tipsify reorders triangles for vertex cache locality (Sander, Nehab, Barczak 2007).
// The vertex data is untouched; only triangle order changes.
func tipsify(indices []uint32, vertexCount, cacheSize int) []uint32 {
	triCount := len(indices) / 3
	if triCount == 0 || vertexCount == 0 {
		return indices
	}

	// vertex -> triangle adjacency in CSR form
	liveTris := make([]int, vertexCount)
	for _, v := range indices[:triCount*3] {
		liveTris[v]++
	}
	offsets := make([]int, vertexCount+1)
	for v := 0; v < vertexCount; v++ {
		offsets[v+1] = offsets[v] + liveTris[v]
	}
	adjacency := make([]int, offsets[vertexCount])
	fill := append([]int(nil), offsets[:vertexCount]...)
	for t := 0; t < triCount; t++ {
		for k := 0; k < 3; k++ {
			v := indices[t*3+k]
			adjacency[fill[v]] = t
			fill[v]++
		}
	}

	cacheTime := make([]int, vertexCount)
	emitted := make([]bool, triCount)
	deadEnd := make([]uint32, 0, len(indices))
	out := make([]uint32, 0, triCount*3)
	time := cacheSize + 1
	cursor := 0

	candidates := make([]uint32, 0, 32)
	fanning := int(indices[0])
	for fanning >= 0 {
		candidates = candidates[:0]
		for _, t := range adjacency[offsets[fanning]:offsets[fanning+1]] {
			if emitted[t] {
				continue
			}
			for k := 0; k < 3; k++ {
				v := indices[t*3+k]
				out = append(out, v)
				deadEnd = append(deadEnd, v)
				candidates = append(candidates, v)
				liveTris[v]--
				if time-cacheTime[v] > cacheSize {
					cacheTime[v] = time
					time++
				}
			}
			emitted[t] = true
		}

		fanning = -1
		best := -1
		for _, v := range candidates {
			if liveTris[v] <= 0 {
				continue
			}
			priority := 0
			if time-cacheTime[v]+2*liveTris[v] <= cacheSize {
				priority = time - cacheTime[v]
			}
			if priority > best {
				best = priority
				fanning = int(v)
			}
		}
		if fanning >= 0 {
			continue
		}

		for len(deadEnd) > 0 {
			v := deadEnd[len(deadEnd)-1]
			deadEnd = deadEnd[:len(deadEnd)-1]
			if liveTris[v] > 0 {
				fanning = int(v)
				break
			}
		}
		if fanning >= 0 {
			continue
		}
		for cursor < vertexCount {
			if liveTris[cursor] > 0 {
				fanning = cursor
				break
			}
			cursor++
		}
	}

	return append(out, indices[triCount*3:]...)
}

// optimizeFetch renumbers vertices in order of first reference so vertex fetches walk memory linearly.
func optimizeFetch(s *vertexStream, indices []uint32) []uint32 {
	remap := make([]uint32, s.len())
	for i := range remap {
		remap[i] = unused
	}
	next := uint32(0)
	out := make([]uint32, len(indices))
	for i, idx := range indices {
		if remap[idx] == unused {
			remap[idx] = next
			next++
		}
		out[i] = remap[idx]
	}
	s.permute(remap, int(next))
	return out
}
