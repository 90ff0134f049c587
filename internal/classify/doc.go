// Package classify scores content complexity and tags it with categories.
//
// Both operations are deterministic heuristics over the item text: keyword
// families add weighted increments to a score clamped to [0,1], and every
// increment is recorded as a factor so a routing decision can be explained
// after the fact.
package classify
