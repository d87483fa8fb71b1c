package raster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSurface(t *testing.T) {
	report := Report{
		ProjectName: "Harbor Wall",
		Title:       "Weekly Report",
		Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Sections: []Section{
			{Heading: "Summary", Body: "Work is **on schedule**.\n\n- item one\n- item two"},
			{Heading: "Photos", Photos: []Photo{
				{Name: "Wall & pier", URL: "https://photos.example.com/1.jpg?w=800&h=600"},
				{Name: "Crane", URL: "https://photos.example.com/2.jpg"},
			}},
		},
	}

	surface, err := BuildSurface(report, "https://app.example.com")
	require.NoError(t, err)

	assert.Contains(t, surface.HTML, "<strong>on schedule</strong>")
	assert.Contains(t, surface.HTML, "<li>item one</li>")
	assert.Contains(t, surface.HTML, "2024-03-01")
	require.Len(t, surface.Images, 2)
	assert.Equal(t, Image{ID: "photo-1", SourceURL: "https://photos.example.com/1.jpg?w=800&h=600", Alt: "Wall & pier", CrossOrigin: true}, surface.Images[0])
	assert.Equal(t, "photo-2", surface.Images[1].ID)
	assert.Equal(t, []Photo{report.Sections[1].Photos[0], report.Sections[1].Photos[1]}, report.Photos())
}

func TestBuildSurfaceKeepsPhotoURLsAsWritten(t *testing.T) {
	report := Report{Sections: []Section{{Photos: []Photo{
		{Name: "Joint", URL: "https://a.example/my photo.jpg"},
	}}}}

	surface, err := BuildSurface(report, "")
	require.NoError(t, err)
	require.Len(t, surface.Images, 1)
	assert.Equal(t, "https://a.example/my photo.jpg", surface.Images[0].SourceURL)
	assert.True(t, surface.Images[0].CrossOrigin)
}
