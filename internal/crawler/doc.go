// Package crawler drives one marketplace search end to end: it acquires
// browser pages, walks the navigation and anti-bot state machine, stabilizes
// lazy-loaded content, extracts offers page by page and hands the aggregated
// result to enrichment and normalization.
package crawler
