// internal/augment/core/markers.go
package core

// Marker attributes and classes written into the host document. These are the
// only DOM contract external tooling may rely on.
const (
	// AttrProcessed marks an image that owns a control surface. The value is
	// the injection record ID.
	AttrProcessed = "data-depthlens-processed"
	// AttrTargetWidth and AttrTargetHeight store a better size source than the
	// image box, when layout analysis found one.
	AttrTargetWidth  = "data-depthlens-target-width"
	AttrTargetHeight = "data-depthlens-target-height"
	// AttrViewerActive is set on a container while a viewer is attached.
	AttrViewerActive = "data-depthlens-viewer-active"
	// AttrGenerated marks every node the engine inserts.
	AttrGenerated = "data-depthlens-generated"
	// AttrArtifact marks images that are themselves conversion output.
	AttrArtifact = "data-depthlens-artifact"
	// AttrFor links a zone or overlay to the image it serves (value: node ID).
	AttrFor = "data-depthlens-for"
	// AttrState mirrors the lifecycle state on the control surface.
	AttrState = "data-depthlens-state"
)

const (
	ClassWrap    = "depthlens-wrap"
	ClassOverlay = "depthlens-overlay"
	ClassZone    = "depthlens-zone"
	ClassSurface = "depthlens-surface"
	ClassViewer  = "depthlens-viewer"
	ClassToast   = "depthlens-toast"
	ClassNotice  = "depthlens-notice"
)

// Preference keys.
const (
	PrefDebugMode       = "debug_mode"
	PrefCORSNoticeShown = "cors_notice_shown"
)
