// Package workspace lays out the directories a build writes to: build/ for intermediates and
// the linked executables, output/ for distributables, and embed/ for the application tree that
// installers and zips are made from.
package workspace
