package memory

import (
	"fmt"

	"github.com/haivivi/memrecall/pkg/kv"
)

// KV key layout, all scoped under "conv:{convID}":
//
//	conv:{c}:atom:{floor8}:{atomID}   → msgpack StateAtom
//	conv:{c}:svec:{floor8}:{atomID}   → msgpack StateVector
//	conv:{c}:chunk:{floor8}:{idx4}    → msgpack Chunk
//	conv:{c}:cvec:{chunkID}           → msgpack ChunkVector
//	conv:{c}:evec:{eventID}           → msgpack EventVector
//	conv:{c}:fp                       → engine fingerprint (raw string)
//	conv:{c}:g:...                    → entity / fact graph (see graph.KVGraph)
//
// Floors are zero-padded so List returns them in floor order.

func convPrefix(conv string) kv.Key { return kv.Key{"conv", conv} }

func floorSeg(floor int) string { return fmt.Sprintf("%08d", floor) }

func atomPrefix(conv string) kv.Key { return kv.Key{"conv", conv, "atom"} }

func atomFloorPrefix(conv string, floor int) kv.Key {
	return kv.Key{"conv", conv, "atom", floorSeg(floor)}
}

func atomKey(conv string, floor int, id string) kv.Key {
	return kv.Key{"conv", conv, "atom", floorSeg(floor), id}
}

func svecPrefix(conv string) kv.Key { return kv.Key{"conv", conv, "svec"} }

func svecFloorPrefix(conv string, floor int) kv.Key {
	return kv.Key{"conv", conv, "svec", floorSeg(floor)}
}

func svecKey(conv string, floor int, id string) kv.Key {
	return kv.Key{"conv", conv, "svec", floorSeg(floor), id}
}

func chunkPrefix(conv string) kv.Key { return kv.Key{"conv", conv, "chunk"} }

func chunkFloorPrefix(conv string, floor int) kv.Key {
	return kv.Key{"conv", conv, "chunk", floorSeg(floor)}
}

func chunkKey(conv string, floor, idx int) kv.Key {
	return kv.Key{"conv", conv, "chunk", floorSeg(floor), fmt.Sprintf("%04d", idx)}
}

func cvecKey(conv, chunkID string) kv.Key { return kv.Key{"conv", conv, "cvec", chunkID} }

func evecPrefix(conv string) kv.Key { return kv.Key{"conv", conv, "evec"} }

func evecKey(conv, eventID string) kv.Key { return kv.Key{"conv", conv, "evec", eventID} }

func fingerprintKey(conv string) kv.Key { return kv.Key{"conv", conv, "fp"} }

func graphPrefix(conv string) kv.Key { return kv.Key{"conv", conv, "g"} }
