// Package spectrum reduces raw analyser frames to compact summaries and
// folds a series of summaries captured in one window into an aggregate.
//
// # Summaries
//
// Summarize turns a Frame (dB magnitudes per bin, optional time-domain
// samples) into a Summary:
//
//   - bandsDbQ: the usable range split into log-spaced bands, each holding
//     the loudest bin it contains
//   - peaks: local maxima above the floor plus a threshold, loudest first,
//     with a -3 dB bandwidth Q estimate
//   - features: RMS, spectral centroid, 95% rolloff, flatness and crest
//   - audioQuality: peak dBFS, clipping, DC offset and click detection,
//     present only when the frame carried samples
//   - delta: feature change against the previous summary, when one is given
//
// All values are quantized to integers (the Q suffix) except peak Q.
//
// # Aggregation
//
// Aggregate max-holds bands and peaks across the series and folds each
// scalar according to a Policy. The delta of an aggregate is measured
// against the first summary of the series, so it describes what changed
// during the capture window.
package spectrum
