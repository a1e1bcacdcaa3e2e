package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RenderProfile holds the visual settings applied to every render: output
// geometry, frame rate, and subtitle styling. It is loaded from an optional
// YAML file; omitted fields fall back to defaults.
type RenderProfile struct {
	Width     int            `yaml:"width"`
	Height    int            `yaml:"height"`
	FPS       int            `yaml:"fps"`
	Subtitles SubtitleConfig `yaml:"subtitles"`
}

// SubtitleConfig selects a named style preset with optional overrides.
type SubtitleConfig struct {
	Preset       string  `yaml:"preset"`
	FontFamily   string  `yaml:"font_family,omitempty"`
	FontSize     int     `yaml:"font_size,omitempty"`
	FontColor    string  `yaml:"font_color,omitempty"`
	OutlineColor string  `yaml:"outline_color,omitempty"`
	OutlineWidth float64 `yaml:"outline_width,omitempty"`
	MarginBottom int     `yaml:"margin_bottom,omitempty"`
}

// SubtitleStyle is a fully resolved subtitle style.
type SubtitleStyle struct {
	FontFamily   string
	FontSize     int
	FontColor    string
	OutlineColor string
	OutlineWidth float64
	MarginBottom int
}

// Named subtitle style presets.
var subtitlePresets = map[string]SubtitleStyle{
	"default": {FontFamily: "Arial", FontSize: 16, FontColor: "#FFFFFF", OutlineColor: "#000000", OutlineWidth: 1.5, MarginBottom: 40},
	"modern":  {FontFamily: "Helvetica", FontSize: 18, FontColor: "#FFFFFF", OutlineColor: "#374151", OutlineWidth: 1.5, MarginBottom: 48},
	"minimal": {FontFamily: "Arial", FontSize: 14, FontColor: "#FFFFFF", OutlineColor: "#000000", OutlineWidth: 1.0, MarginBottom: 32},
	"bold":    {FontFamily: "Arial Black", FontSize: 20, FontColor: "#FFFF00", OutlineColor: "#FF0000", OutlineWidth: 2.0, MarginBottom: 48},
	"elegant": {FontFamily: "Times New Roman", FontSize: 16, FontColor: "#F8F9FA", OutlineColor: "#2C3E50", OutlineWidth: 0, MarginBottom: 40},
}

// DefaultProfile returns the built-in render profile: 720x1280 portrait at
// 30 fps with the default subtitle preset.
func DefaultProfile() *RenderProfile {
	return &RenderProfile{
		Width:     720,
		Height:    1280,
		FPS:       30,
		Subtitles: SubtitleConfig{Preset: "default"},
	}
}

// LoadProfile reads a YAML render profile. An empty path returns the default
// profile; a missing or malformed file is an error.
func LoadProfile(path string) (*RenderProfile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("cannot parse profile %s: %w", path, err)
	}

	if profile.Width <= 0 || profile.Height <= 0 {
		return nil, fmt.Errorf("profile %s: width and height must be positive", path)
	}
	if profile.FPS <= 0 {
		return nil, fmt.Errorf("profile %s: fps must be positive", path)
	}
	if _, ok := subtitlePresets[profile.Subtitles.Preset]; !ok && profile.Subtitles.Preset != "" {
		return nil, fmt.Errorf("profile %s: unknown subtitle preset %q", path, profile.Subtitles.Preset)
	}

	return profile, nil
}

// SubtitleStyle resolves the configured preset and applies overrides.
func (p *RenderProfile) SubtitleStyle() SubtitleStyle {
	style, ok := subtitlePresets[p.Subtitles.Preset]
	if !ok {
		style = subtitlePresets["default"]
	}

	if p.Subtitles.FontFamily != "" {
		style.FontFamily = p.Subtitles.FontFamily
	}
	if p.Subtitles.FontSize > 0 {
		style.FontSize = p.Subtitles.FontSize
	}
	if p.Subtitles.FontColor != "" {
		style.FontColor = p.Subtitles.FontColor
	}
	if p.Subtitles.OutlineColor != "" {
		style.OutlineColor = p.Subtitles.OutlineColor
	}
	if p.Subtitles.OutlineWidth > 0 {
		style.OutlineWidth = p.Subtitles.OutlineWidth
	}
	if p.Subtitles.MarginBottom > 0 {
		style.MarginBottom = p.Subtitles.MarginBottom
	}

	return style
}
