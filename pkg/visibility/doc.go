// Package visibility converts viewport visibility reports into fetch
// priorities.
//
// An Observer maps UI elements to callbacks without keeping the elements
// alive: bindings are keyed by weak pointers and dropped automatically once
// an element is collected. The visibility source calls Notify with an Entry
// whenever a tracked element crosses the viewport; Score turns that Entry
// into a priority where 0 means on screen and larger values mean farther
// away, capped so that everything far off screen is treated alike.
package visibility
