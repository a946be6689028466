package pipeline

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/pointio"
	"uct2ccf/pkg/visualization"
)

// overlayAlpha is the label weight in annotation overlays
const overlayAlpha = 0.4

var qcViews = []string{pointio.ViewCoronal, pointio.ViewAxial, pointio.ViewSagittal}

// middleSlice returns the central slice position of a view
func middleSlice(shape [3]int, view string) int {
	switch view {
	case pointio.ViewAxial:
		return shape[1] / 2
	case pointio.ViewSagittal:
		return shape[2] / 2
	}
	return shape[0] / 2
}

// saveQC writes one intermediary image. Failures are logged, never fatal.
func (p *Pipeline) saveQC(stage, name string, img image.Image, jpeg bool) {
	dir := filepath.Join(p.params.IntermediaryDir, stage)
	if err := os.MkdirAll(dir, 0755); err != nil {
		p.log.Errorf("Warning: Failed to create %s: %v", dir, err)
		return
	}
	path := filepath.Join(dir, name)
	var err error
	if jpeg {
		err = visualization.SaveSlice(img, path)
	} else {
		err = visualization.SavePNG(img, path)
	}
	if err != nil {
		p.log.Errorf("Warning: Failed to save %s: %v", path, err)
	}
}

func (p *Pipeline) saveViews(stage string, vol *models.Volume) {
	if !p.params.SaveIntermediaryResults {
		return
	}
	v, err := visualization.NewViewer(vol)
	if err != nil {
		p.log.Errorf("Warning: Failed to create viewer for %s: %v", stage, err)
		return
	}
	p.log.Infof("Saving %s slices...", stage)
	for _, view := range qcViews {
		img, err := v.ExtractSlice(view, middleSlice(vol.Shape(), view))
		if err != nil {
			p.log.Errorf("Warning: Failed to extract %s slice: %v", view, err)
			continue
		}
		p.saveQC(stage, fmt.Sprintf("%s.jpg", view), img, true)
	}
}

func (p *Pipeline) saveCheckerboard() {
	if !p.params.SaveIntermediaryResults {
		return
	}
	before, err := visualization.NewViewer(p.scan)
	if err != nil {
		p.log.Errorf("Warning: Failed to create viewer: %v", err)
		return
	}
	after, err := visualization.NewViewer(p.aligned)
	if err != nil {
		p.log.Errorf("Warning: Failed to create viewer: %v", err)
		return
	}
	for _, view := range qcViews {
		img, err := visualization.Checkerboard(before, after, view, middleSlice(p.scan.Shape(), view), 8)
		if err != nil {
			p.log.Errorf("Warning: Failed to build %s checkerboard: %v", view, err)
			continue
		}
		p.saveQC("02_aligned", fmt.Sprintf("checkerboard_%s.png", view), img, false)
	}
}

// saveAnnotation writes coloured annotation slices and the annotation blended
// over the registered scan, or over the reference volume when it shares the
// annotation grid and no scan was registered
func (p *Pipeline) saveAnnotation() {
	if !p.params.SaveIntermediaryResults || p.annotation == nil || p.tree == nil {
		return
	}
	shape := p.annotation.Shape()
	base := p.registered
	if base == nil || base.Shape() != shape {
		base = p.reference
	}
	var ref *visualization.Viewer
	if base != nil && base.Shape() == shape {
		var err error
		if ref, err = visualization.NewViewer(base); err != nil {
			p.log.Errorf("Warning: Failed to create overlay viewer: %v", err)
		}
	}

	p.log.Infof("Saving annotation slices...")
	for _, view := range qcViews {
		pos := middleSlice(shape, view)
		img, err := visualization.LabelSlice(p.annotation, p.tree, view, pos)
		if err != nil {
			p.log.Errorf("Warning: Failed to colour %s annotation slice: %v", view, err)
			continue
		}
		p.saveQC("03_atlas", fmt.Sprintf("annotation_%s.png", view), img, false)

		if ref == nil {
			continue
		}
		overlay, err := ref.Overlay(p.annotation, p.tree, view, pos, overlayAlpha)
		if err != nil {
			p.log.Errorf("Warning: Failed to overlay %s annotation slice: %v", view, err)
			continue
		}
		p.saveQC("03_atlas", fmt.Sprintf("overlay_%s.png", view), overlay, false)
	}
}
