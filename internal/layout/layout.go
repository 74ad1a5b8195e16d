// Package layout computes tile placement for the camera grid.
//
// Fixed grid modes place tiles implicitly from their index; only the
// free-form canvas stores an explicit position and size per camera.
// State values are treated as immutable: every mutator returns a copy.
package layout

import "fmt"

// Mode names a layout strategy
type Mode string

const (
	FreeForm Mode = "free-form"
	Grid1x1  Mode = "1x1"
	Grid2x2  Mode = "2x2"
	Grid3x3  Mode = "3x3"
	Grid4x4  Mode = "4x4"
	Grid2x3  Mode = "2x3"
	Grid3x2  Mode = "3x2"
)

// Geometry describes the grid of a layout mode
type Geometry struct {
	Mode       Mode `json:"mode" yaml:"mode"`
	Cols       int  `json:"cols" yaml:"cols"`
	Rows       int  `json:"rows" yaml:"rows"`
	MaxCameras int  `json:"max_cameras" yaml:"max_cameras"`
}

var geometries = []Geometry{
	{Mode: FreeForm, Cols: 0, Rows: 0, MaxCameras: 16},
	{Mode: Grid1x1, Cols: 1, Rows: 1, MaxCameras: 1},
	{Mode: Grid2x2, Cols: 2, Rows: 2, MaxCameras: 4},
	{Mode: Grid3x3, Cols: 3, Rows: 3, MaxCameras: 9},
	{Mode: Grid4x4, Cols: 4, Rows: 4, MaxCameras: 16},
	{Mode: Grid2x3, Cols: 2, Rows: 3, MaxCameras: 6},
	{Mode: Grid3x2, Cols: 3, Rows: 2, MaxCameras: 6},
}

// Modes returns every supported layout in display order
func Modes() []Geometry {
	out := make([]Geometry, len(geometries))
	copy(out, geometries)
	return out
}

// Lookup returns the geometry of a mode
func Lookup(m Mode) (Geometry, bool) {
	for _, s := range geometries {
		if s.Mode == m {
			return s, true
		}
	}
	return Geometry{}, false
}

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if _, ok := Lookup(m); !ok {
		return "", fmt.Errorf("unknown layout mode %q", s)
	}
	return m, nil
}

// Tiling constants for free-form placement
const (
	TileWidth  = 300
	TileHeight = 225
	PitchX     = 320
	PitchY     = 240
	Margin     = 10
	tileCols   = 2
)

// Position is a tile's top-left corner in canvas pixels
type Position struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Size is a tile's extent in canvas pixels
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// PositionFor returns the tiled placement of the tile at index
func PositionFor(index int) (Position, Size) {
	row := index / tileCols
	col := index % tileCols
	return Position{
			X: col*PitchX + Margin,
			Y: row*PitchY + Margin,
		}, Size{
			Width:  TileWidth,
			Height: TileHeight,
		}
}

type transition struct {
	fromFreeForm bool
	toFreeForm   bool
}

// recomputeOn says whether stored placement is rebuilt for a mode change.
// Fixed grids derive placement from the index, so only transitions that
// touch the free-form canvas rebuild the maps.
var recomputeOn = map[transition]bool{
	{fromFreeForm: false, toFreeForm: false}: false,
	{fromFreeForm: false, toFreeForm: true}:  true,
	{fromFreeForm: true, toFreeForm: false}:  true,
	{fromFreeForm: true, toFreeForm: true}:   true,
}

// NeedsRecompute reports whether switching from one mode to another
// rebuilds the stored positions and sizes
func NeedsRecompute(from, to Mode) bool {
	return recomputeOn[transition{fromFreeForm: from == FreeForm, toFreeForm: to == FreeForm}]
}

// Cell returns the implicit row and column of a tile under a fixed grid.
// ok is false for free-form or when the index does not fit the grid.
func Cell(m Mode, index int) (row, col int, ok bool) {
	g, found := Lookup(m)
	if !found || g.Cols == 0 || index < 0 || index >= g.MaxCameras {
		return 0, 0, false
	}
	return index / g.Cols, index % g.Cols, true
}

// Visible returns how many of n cameras a mode can show
func Visible(m Mode, n int) int {
	g, ok := Lookup(m)
	if !ok {
		return 0
	}
	if n > g.MaxCameras {
		return g.MaxCameras
	}
	return n
}

// State is the stored layout of the grid
type State struct {
	Mode      Mode                `json:"mode" yaml:"mode"`
	Positions map[string]Position `json:"positions" yaml:"positions"`
	Sizes     map[string]Size     `json:"sizes" yaml:"sizes"`
}

// New returns an empty layout in the given mode
func New(m Mode) State {
	return State{
		Mode:      m,
		Positions: make(map[string]Position),
		Sizes:     make(map[string]Size),
	}
}

// Clone returns a deep copy
func (s State) Clone() State {
	out := State{
		Mode:      s.Mode,
		Positions: make(map[string]Position, len(s.Positions)),
		Sizes:     make(map[string]Size, len(s.Sizes)),
	}
	for id, p := range s.Positions {
		out.Positions[id] = p
	}
	for id, sz := range s.Sizes {
		out.Sizes[id] = sz
	}
	return out
}

// WithMode switches mode. ids is the camera order used when the
// transition rebuilds placement.
func (s State) WithMode(to Mode, ids []string) State {
	from := s.Mode
	out := s.Clone()
	out.Mode = to
	if NeedsRecompute(from, to) {
		out.Positions, out.Sizes = tile(ids)
	}
	return out
}

// Reset rebuilds placement for every camera regardless of mode
func (s State) Reset(ids []string) State {
	out := s.Clone()
	out.Positions, out.Sizes = tile(ids)
	return out
}

// Place assigns the tiled placement for index to id
func (s State) Place(id string, index int) State {
	out := s.Clone()
	out.Positions[id], out.Sizes[id] = PositionFor(index)
	return out
}

// Move replaces the stored position of id
func (s State) Move(id string, p Position) State {
	out := s.Clone()
	out.Positions[id] = p
	return out
}

// Resize replaces the stored size of id
func (s State) Resize(id string, sz Size) State {
	out := s.Clone()
	out.Sizes[id] = sz
	return out
}

// Remove drops every entry for id
func (s State) Remove(id string) State {
	out := s.Clone()
	delete(out.Positions, id)
	delete(out.Sizes, id)
	return out
}

func tile(ids []string) (map[string]Position, map[string]Size) {
	positions := make(map[string]Position, len(ids))
	sizes := make(map[string]Size, len(ids))
	for i, id := range ids {
		positions[id], sizes[id] = PositionFor(i)
	}
	return positions, sizes
}
