package tunit

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// calculateEdit computes the single edit between old and new content by
// trimming the common prefix and suffix.
func calculateEdit(oldContent, newContent []byte) sitter.EditInput {
	startByte := 0
	for startByte < len(oldContent) && startByte < len(newContent) {
		if oldContent[startByte] != newContent[startByte] {
			break
		}
		startByte++
	}

	oldEndByte := len(oldContent)
	newEndByte := len(newContent)
	for oldEndByte > startByte && newEndByte > startByte {
		if oldContent[oldEndByte-1] != newContent[newEndByte-1] {
			break
		}
		oldEndByte--
		newEndByte--
	}

	return sitter.EditInput{
		StartIndex:  uint32(startByte),
		OldEndIndex: uint32(oldEndByte),
		NewEndIndex: uint32(newEndByte),
		StartPoint:  calculatePoint(oldContent[:startByte]),
		OldEndPoint: calculatePoint(oldContent[:oldEndByte]),
		NewEndPoint: calculatePoint(newContent[:newEndByte]),
	}
}

// calculatePoint calculates the Point (row, column) for a byte position.
func calculatePoint(content []byte) sitter.Point {
	row := uint32(0)
	column := uint32(0)

	for _, b := range content {
		if b == '\n' {
			row++
			column = 0
		} else {
			column++
		}
	}

	return sitter.Point{Row: row, Column: column}
}
