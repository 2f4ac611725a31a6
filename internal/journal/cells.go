package journal

import (
	"fmt"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

// CellAt returns the H3 cell holding p, read as lon/lat degrees.
func CellAt(p orb.Point, res int) (string, error) {
	if res < 0 || res > 15 {
		return "", fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	lon, lat := p[0], p[1]
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", fmt.Errorf("point %v is not in lon/lat degrees", p)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// Parent coarsens cell to res.
func Parent(cell string, res int) (string, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return "", fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return "", fmt.Errorf("invalid h3 cell %q", cell)
	}
	if res > c.Resolution() {
		return "", fmt.Errorf("parent resolution %d is finer than cell resolution %d", res, c.Resolution())
	}
	if res == c.Resolution() {
		return cell, nil
	}
	p, err := c.Parent(res)
	if err != nil {
		return "", fmt.Errorf("h3 parent: %w", err)
	}
	return p.String(), nil
}
