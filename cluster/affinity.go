package cluster

import (
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/store"
	"github.com/cespare/xxhash/v2"
)

// Affinity maps partitions onto nodes by rendezvous hashing. Each
// partition has one primary and up to Backups further owners. An Affinity
// is immutable; it is rebuilt whenever the node set changes.
type Affinity struct {
	partitions int
	nodes      []NodeID
	owners     [][]NodeID
	byNode     map[NodeID][]int
}

func score(node NodeID, partition int) uint64 {
	buf := make([]byte, 0, len(node)+4)
	buf = append(buf, node...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(partition))
	return xxhash.Sum64(buf)
}

func NewAffinity(nodes []NodeID, partitions, backups int) *Affinity {
	a := &Affinity{
		partitions: partitions,
		nodes:      slices.Clone(nodes),
		owners:     make([][]NodeID, partitions),
		byNode:     make(map[NodeID][]int, len(nodes)),
	}
	slices.Sort(a.nodes)
	if len(a.nodes) == 0 {
		return a
	}
	copies := min(backups+1, len(a.nodes))
	type ranked struct {
		node  NodeID
		score uint64
	}
	ranks := make([]ranked, len(a.nodes))
	for p := range partitions {
		for i, n := range a.nodes {
			ranks[i] = ranked{n, score(n, p)}
		}
		// highest score wins, ties by id
		slices.SortFunc(ranks, func(x, y ranked) int {
			if c := cmp.Compare(y.score, x.score); c != 0 {
				return c
			}
			return cmp.Compare(x.node, y.node)
		})
		owners := make([]NodeID, copies)
		for i := range owners {
			owners[i] = ranks[i].node
		}
		a.owners[p] = owners
		a.byNode[owners[0]] = append(a.byNode[owners[0]], p)
	}
	return a
}

func (a *Affinity) Partitions() int { return a.partitions }

func (a *Affinity) Nodes() []NodeID { return a.nodes }

func (a *Affinity) Partition(id grid.CellID) int {
	return store.PartitionOf(id, a.partitions)
}

// Owners lists the nodes holding partition p, primary first.
func (a *Affinity) Owners(p int) []NodeID {
	if p < 0 || p >= a.partitions {
		return nil
	}
	return a.owners[p]
}

// Primary returns the primary node of partition p, or "" without nodes.
func (a *Affinity) Primary(p int) NodeID {
	owners := a.Owners(p)
	if len(owners) == 0 {
		return ""
	}
	return owners[0]
}

func (a *Affinity) PrimaryFor(id grid.CellID) NodeID {
	return a.Primary(a.Partition(id))
}

// PrimaryPartitions lists, in ascending order, the partitions node is
// primary for.
func (a *Affinity) PrimaryPartitions(node NodeID) []int {
	return a.byNode[node]
}

func (a *Affinity) IsPrimary(node NodeID, p int) bool {
	return a.Primary(p) == node
}
