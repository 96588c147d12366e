/*
Package preprocess turns uploaded image files into the fixed-shape
grayscale tensor the crop disease classifier expects.

The conversion is: decode, reorder channels to BGR, convert to luminance,
stretch to a square with bilinear interpolation, scale to [0,1] and shape
as [1, size, size, 1].
*/
package preprocess
