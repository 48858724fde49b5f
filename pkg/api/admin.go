package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gatewarden/gatewarden/pkg/store"
	"github.com/gatewarden/gatewarden/pkg/urlpath"
)

// Resource representations carry a urn:uuid id and a self link so
// admin UIs can navigate without constructing URLs themselves.

type userResource struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Self  string `json:"self"`
}

type openAccessResource struct {
	RequireLogin bool   `json:"requireLogin"`
	Self         string `json:"self"`
}

type locationResource struct {
	ID           string              `json:"id"`
	Path         string              `json:"path"`
	AllowedUsers []userResource      `json:"allowedUsers"`
	OpenAccess   *openAccessResource `json:"openAccess,omitempty"`
	Self         string              `json:"self"`
}

type aliasResource struct {
	ID   uint   `json:"id"`
	URL  string `json:"url"`
	Self string `json:"self"`
}

func userSelf(siteURL, userUUID string) string {
	return siteURL + "/admin/api/users/" + userUUID + "/"
}

func locationSelf(siteURL, locationUUID string) string {
	return siteURL + "/admin/api/locations/" + locationUUID + "/"
}

func newUserResource(siteURL string, user *store.User) userResource {
	return userResource{
		ID:    "urn:uuid:" + user.UUID,
		Email: user.Email,
		Self:  userSelf(siteURL, user.UUID),
	}
}

func (s *server) newLocationResource(
	r *http.Request, siteURL string, location *store.Location,
) (*locationResource, error) {
	users, err := s.store.ListLocationUsers(
		r.Context(), location.SiteID, location.UUID,
	)
	if err != nil {
		return nil, err
	}

	resource := &locationResource{
		ID:           "urn:uuid:" + location.UUID,
		Path:         location.Path,
		AllowedUsers: make([]userResource, 0, len(users)),
		Self:         locationSelf(siteURL, location.UUID),
	}

	for i := range users {
		resource.AllowedUsers = append(
			resource.AllowedUsers, newUserResource(siteURL, &users[i]),
		)
	}

	if location.OpenAccessGranted() {
		resource.OpenAccess = &openAccessResource{
			RequireLogin: location.OpenAccessRequiresLogin(),
			Self:         resource.Self + "open-access/",
		}
	}

	return resource, nil
}

// --- Locations ---

func (s *server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())
	siteURL := siteURLFromContext(r.Context())

	locations, err := s.store.ListLocations(r.Context(), snapshot.SiteID)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	resources := make([]*locationResource, 0, len(locations))

	for i := range locations {
		resource, err := s.newLocationResource(r, siteURL, &locations[i])
		if err != nil {
			s.writeStoreError(w, err)

			return
		}

		resources = append(resources, resource)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"self":      siteURL + "/admin/api/locations/",
		"locations": resources,
	})
}

func (s *server) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())
	siteURL := siteURLFromContext(r.Context())

	var req struct {
		Path string `json:"path"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"malformed request body"})

		return
	}

	if err := urlpath.ValidateLocationPath(req.Path); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	location, err := s.store.CreateLocation(
		r.Context(), snapshot.SiteID, req.Path,
	)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	resource, err := s.newLocationResource(r, siteURL, location)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	w.Header().Set("Location", resource.Self)
	writeJSON(w, http.StatusCreated, resource)
}

func (s *server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())

	location, err := s.store.GetLocation(
		r.Context(), snapshot.SiteID, chi.URLParam(r, "locationUUID"),
	)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	resource, err := s.newLocationResource(
		r, siteURLFromContext(r.Context()), location,
	)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, resource)
}

func (s *server) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())

	if err := s.store.DeleteLocation(
		r.Context(), snapshot.SiteID, chi.URLParam(r, "locationUUID"),
	); err != nil {
		s.writeStoreError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Open access ---

func (s *server) handleGrantOpenAccess(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())

	var req struct {
		RequireLogin bool `json:"requireLogin"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"malformed request body"})

		return
	}

	location, err := s.store.GetLocation(
		r.Context(), snapshot.SiteID, chi.URLParam(r, "locationUUID"),
	)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	mode := store.OpenAccessNoLogin
	if req.RequireLogin {
		mode = store.OpenAccessWithLogin
	}

	// First grant answers 201, adjusting an already open location 200.
	status := http.StatusOK
	if !location.OpenAccessGranted() {
		status = http.StatusCreated
	}

	if err := s.store.SetOpenAccess(
		r.Context(), snapshot.SiteID, location.UUID, mode,
	); err != nil {
		s.writeStoreError(w, err)

		return
	}

	self := locationSelf(
		siteURLFromContext(r.Context()), location.UUID,
	) + "open-access/"

	if status == http.StatusCreated {
		w.Header().Set("Location", self)
	}

	writeJSON(w, status, openAccessResource{
		RequireLogin: req.RequireLogin,
		Self:         self,
	})
}

func (s *server) handleGetOpenAccess(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())

	location, err := s.store.GetLocation(
		r.Context(), snapshot.SiteID, chi.URLParam(r, "locationUUID"),
	)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	if !location.OpenAccessGranted() {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"open access not granted"})

		return
	}

	writeJSON(w, http.StatusOK, openAccessResource{
		RequireLogin: location.OpenAccessRequiresLogin(),
		Self: locationSelf(
			siteURLFromContext(r.Context()), location.UUID,
		) + "open-access/",
	})
}

func (s *server) handleRevokeOpenAccess(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())

	location, err := s.store.GetLocation(
		r.Context(), snapshot.SiteID, chi.URLParam(r, "locationUUID"),
	)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	if !location.OpenAccessGranted() {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"open access not granted"})

		return
	}

	if err := s.store.SetOpenAccess(
		r.Context(), snapshot.SiteID, location.UUID, store.OpenAccessDisabled,
	); err != nil {
		s.writeStoreError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Allowed users ---

func (s *server) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())
	siteURL := siteURLFromContext(r.Context())
	locationUUID := chi.URLParam(r, "locationUUID")
	userUUID := chi.URLParam(r, "userUUID")

	_, created, err := s.store.GrantPermission(
		r.Context(), snapshot.SiteID, locationUUID, userUUID,
	)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	user, err := s.store.GetUser(r.Context(), snapshot.SiteID, userUUID)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", locationSelf(siteURL, locationUUID)+
			"allowed-users/"+userUUID+"/")
	}

	writeJSON(w, status, newUserResource(siteURL, user))
}

func (s *server) handleGetAccess(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())
	userUUID := chi.URLParam(r, "userUUID")

	if _, err := s.store.GetPermission(
		r.Context(), snapshot.SiteID, chi.URLParam(r, "locationUUID"), userUUID,
	); err != nil {
		s.writeStoreError(w, err)

		return
	}

	user, err := s.store.GetUser(r.Context(), snapshot.SiteID, userUUID)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK,
		newUserResource(siteURLFromContext(r.Context()), user))
}

func (s *server) handleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())

	if err := s.store.RevokePermission(
		r.Context(),
		snapshot.SiteID,
		chi.URLParam(r, "locationUUID"),
		chi.URLParam(r, "userUUID"),
	); err != nil {
		s.writeStoreError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Users ---

func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())
	siteURL := siteURLFromContext(r.Context())

	users, err := s.store.ListUsers(r.Context(), snapshot.SiteID)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	resources := make([]userResource, 0, len(users))
	for i := range users {
		resources = append(resources, newUserResource(siteURL, &users[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"self":  siteURL + "/admin/api/users/",
		"users": resources,
	})
}

func (s *server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())
	siteURL := siteURLFromContext(r.Context())

	var req struct {
		Email string `json:"email"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"malformed request body"})

		return
	}

	email, ok := store.NormalizeEmail(req.Email)
	if !ok {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid email address"})

		return
	}

	user, err := s.store.CreateUser(r.Context(), snapshot.SiteID, email)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	resource := newUserResource(siteURL, user)

	w.Header().Set("Location", resource.Self)
	writeJSON(w, http.StatusCreated, resource)
}

func (s *server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())

	user, err := s.store.GetUser(
		r.Context(), snapshot.SiteID, chi.URLParam(r, "userUUID"),
	)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK,
		newUserResource(siteURLFromContext(r.Context()), user))
}

func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())

	if err := s.store.DeleteUser(
		r.Context(), snapshot.SiteID, chi.URLParam(r, "userUUID"),
	); err != nil {
		s.writeStoreError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Aliases ---

func (s *server) handleListAliases(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())
	siteURL := siteURLFromContext(r.Context())

	aliases, err := s.store.ListAliases(r.Context(), snapshot.SiteID)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	resources := make([]aliasResource, 0, len(aliases))
	for _, alias := range aliases {
		resources = append(resources, aliasResource{
			ID:  alias.ID,
			URL: alias.URL,
			Self: siteURL + "/admin/api/aliases/" +
				strconv.FormatUint(uint64(alias.ID), 10) + "/",
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"self":    siteURL + "/admin/api/aliases/",
		"aliases": resources,
	})
}

func (s *server) handleCreateAlias(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())
	siteURL := siteURLFromContext(r.Context())

	var req struct {
		URL string `json:"url"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"malformed request body"})

		return
	}

	normalized, err := urlpath.ValidateSiteURL(req.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	alias, err := s.store.CreateAlias(r.Context(), snapshot.SiteID, normalized)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	resource := aliasResource{
		ID:  alias.ID,
		URL: alias.URL,
		Self: siteURL + "/admin/api/aliases/" +
			strconv.FormatUint(uint64(alias.ID), 10) + "/",
	}

	w.Header().Set("Location", resource.Self)
	writeJSON(w, http.StatusCreated, resource)
}

func (s *server) handleDeleteAlias(w http.ResponseWriter, r *http.Request) {
	snapshot := siteFromContext(r.Context())
	siteURL := siteURLFromContext(r.Context())

	id, err := strconv.ParseUint(chi.URLParam(r, "aliasID"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid alias id"})

		return
	}

	aliases, err := s.store.ListAliases(r.Context(), snapshot.SiteID)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	for _, alias := range aliases {
		// The alias this very request arrived under stays.
		if alias.ID == uint(id) && alias.URL == siteURL {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"can't delete the alias in use"})

			return
		}
	}

	if err := s.store.DeleteAlias(
		r.Context(), snapshot.SiteID, uint(id),
	); err != nil {
		s.writeStoreError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
