package kernel

import (
	"fmt"

	"github.com/san-kum/mcrun/internal/mc"
)

// Lattice is a periodic simple cubic supercell with one site per unit cell.
type Lattice struct {
	Size [3]int
	// forward[i] holds the +x, +y, +z neighbours of site i; neighbors[i]
	// holds all six.
	forward   [][3]int
	neighbors [][6]int
}

// NewLattice builds the neighbour lists for a diagonal supercell matrix.
func NewLattice(matrix [3][3]int64) (*Lattice, error) {
	var size [3]int
	for i := range 3 {
		for j := range 3 {
			if i != j && matrix[i][j] != 0 {
				return nil, fmt.Errorf("supercell matrix must be diagonal, got %v", matrix)
			}
		}
		if matrix[i][i] <= 0 {
			return nil, fmt.Errorf("supercell matrix diagonal must be positive, got %v", matrix)
		}
		size[i] = int(matrix[i][i])
	}

	n := size[0] * size[1] * size[2]
	l := &Lattice{
		Size:      size,
		forward:   make([][3]int, n),
		neighbors: make([][6]int, n),
	}
	for x := range size[0] {
		for y := range size[1] {
			for z := range size[2] {
				i := l.index(x, y, z)
				px, py, pz := l.index(x+1, y, z), l.index(x, y+1, z), l.index(x, y, z+1)
				mx, my, mz := l.index(x-1, y, z), l.index(x, y-1, z), l.index(x, y, z-1)
				l.forward[i] = [3]int{px, py, pz}
				l.neighbors[i] = [6]int{px, py, pz, mx, my, mz}
			}
		}
	}
	return l, nil
}

func (l *Lattice) index(x, y, z int) int {
	x = (x + l.Size[0]) % l.Size[0]
	y = (y + l.Size[1]) % l.Size[1]
	z = (z + l.Size[2]) % l.Size[2]
	return (x*l.Size[1]+y)*l.Size[2] + z
}

func (l *Lattice) NSites() int { return len(l.forward) }

// Matrix returns the diagonal supercell matrix of l.
func (l *Lattice) Matrix() [3][3]int64 {
	var m [3][3]int64
	for i := range 3 {
		m[i][i] = int64(l.Size[i])
	}
	return m
}

// UnlikeBonds counts nearest-neighbour bonds between different species.
func (l *Lattice) UnlikeBonds(occ []int) int {
	n := 0
	for i, fw := range l.forward {
		for _, j := range fw {
			if occ[i] != occ[j] {
				n++
			}
		}
	}
	return n
}

// unlikeDelta is the change in UnlikeBonds if site i took species s.
func (l *Lattice) unlikeDelta(occ []int, i, s int) int {
	d := 0
	for _, j := range l.neighbors[i] {
		if j == i {
			continue
		}
		if occ[j] != s {
			d++
		}
		if occ[j] != occ[i] {
			d--
		}
	}
	return d
}

// Supercell returns an all-zero configuration of size l×m×n.
func Supercell(size [3]int) *mc.Configuration {
	c := &mc.Configuration{Occupation: make([]int, size[0]*size[1]*size[2])}
	for i := range 3 {
		c.TransformationMatrix[i][i] = int64(size[i])
	}
	return c
}
