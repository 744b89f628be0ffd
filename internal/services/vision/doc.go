// Package vision implements the analysis stage: it sends the source image to
// a vision model and streams the description back token by token.
package vision
