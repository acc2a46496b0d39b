package server

import (
	"bytes"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/storage"
	"libraryhub/services/library/internal/app"
)

func (s *Server) catalogRoutes(r chi.Router) {
	admin := r.With(s.requireAdmin)

	r.Get("/books", s.handleListBooks)
	r.Get("/books/available", s.handleAvailableBooks)
	r.Get("/books/search", s.handleSearchBooks)
	r.Get("/books/copies/all", s.handleAllCopies)
	r.Get("/books/{id}", s.handleGetBook)
	r.Get("/books/{id}/copies", s.handleBookCopies)
	r.Get("/books/{id}/cover", s.handleGetCover)
	admin.Post("/books", s.handleCreateBook)
	admin.Put("/books/{id}", s.handleUpdateBook)
	admin.Delete("/books/{id}", s.handleDeleteBook)
	admin.Post("/books/{id}/copies", s.handleAddCopies)
	admin.Delete("/books/{id}/copies", s.handleRemoveCopies)
	admin.Put("/books/{id}/cover", s.handleUploadCover)

	r.Get("/copies/{id}", s.handleGetCopy)
	admin.Put("/copies/{id}/status", s.handleSetCopyStatus)

	r.Get("/authors", s.handleListAuthors)
	r.Get("/authors/{id}", s.handleGetAuthor)
	r.Get("/authors/{id}/books", s.handleAuthorBooks)
	admin.Post("/authors", s.handleCreateAuthor)
	admin.Put("/authors/{id}", s.handleUpdateAuthor)
	admin.Delete("/authors/{id}", s.handleDeleteAuthor)

	r.Get("/publishers", s.handleListPublishers)
	r.Get("/publishers/{id}", s.handleGetPublisher)
	r.Get("/publishers/{id}/books", s.handlePublisherBooks)
	admin.Post("/publishers", s.handleCreatePublisher)
	admin.Put("/publishers/{id}", s.handleUpdatePublisher)
	admin.Delete("/publishers/{id}", s.handleDeletePublisher)

	r.Get("/categories", s.handleListCategories)
	r.Get("/categories/{id}", s.handleGetCategory)
	r.Get("/categories/{id}/books", s.handleCategoryBooks)
	admin.Post("/categories", s.handleCreateCategory)
	admin.Put("/categories/{id}", s.handleUpdateCategory)
	admin.Delete("/categories/{id}", s.handleDeleteCategory)
}

type bookRequest struct {
	Title       string `json:"title"`
	ISBN        string `json:"isbn"`
	EditionYear int    `json:"editionYear"`
	PublisherID *uint  `json:"publisherId"`
	CategoryID  *uint  `json:"categoryId"`
	Synopsis    string `json:"synopsis"`
	AuthorIDs   []uint `json:"authorIds"`
}

func (req bookRequest) book(id uint) domain.Book {
	return domain.Book{
		ID:          id,
		Title:       req.Title,
		ISBN:        req.ISBN,
		EditionYear: req.EditionYear,
		PublisherID: req.PublisherID,
		CategoryID:  req.CategoryID,
		Synopsis:    req.Synopsis,
		AuthorIDs:   req.AuthorIDs,
	}
}

type addCopiesRequest struct {
	Count    int    `json:"count"`
	Location string `json:"location"`
}

type removeCopiesRequest struct {
	Count int `json:"count"`
}

type copyStatusRequest struct {
	Status domain.CopyStatus `json:"status"`
	Note   string            `json:"note"`
}

// books

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	q := app.BookQuery{
		Term:          r.URL.Query().Get("term"),
		AvailableOnly: r.URL.Query().Get("available") == "true",
	}
	books, err := s.app.ListBooks(r.Context(), q)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, books)
}

func (s *Server) handleAvailableBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.ListBooks(r.Context(), app.BookQuery{AvailableOnly: true})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, books)
}

func (s *Server) handleSearchBooks(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("term")
	if term == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "term is required")
		return
	}
	books, err := s.app.ListBooks(r.Context(), app.BookQuery{Term: term})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, books)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	book, err := s.app.GetBook(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	book, err := s.app.CreateBook(r.Context(), req.book(0))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.book.create", "success", "book_id", book.ID)
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	book, err := s.app.UpdateBook(r.Context(), req.book(id))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.book.update", "success", "book_id", id)
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.app.DeleteBook(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.book.delete", "success", "book_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadCover(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, storage.MaxCoverBytes+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "could not read cover body")
		return
	}
	book, err := s.app.UploadCover(r.Context(), id, bytes.NewReader(data), int64(len(data)), r.Header.Get("Content-Type"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.book.cover", "success", "book_id", id, "bytes", len(data))
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleGetCover(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	url, err := s.app.CoverURL(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// copies

func (s *Server) handleAllCopies(w http.ResponseWriter, r *http.Request) {
	copies, err := s.app.ListCopies(r.Context(), 0)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, copies)
}

func (s *Server) handleBookCopies(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if _, err := s.app.GetBook(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	copies, err := s.app.ListCopies(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, copies)
}

func (s *Server) handleAddCopies(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	req := addCopiesRequest{Count: 1}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}
	copies, err := s.app.AddCopies(r.Context(), id, req.Count, req.Location)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.copies.add", "success", "book_id", id, "count", len(copies))
	writeJSON(w, http.StatusCreated, listResponse{Items: copies, Count: len(copies)})
}

func (s *Server) handleRemoveCopies(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req removeCopiesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	removed, err := s.app.RemoveCopies(r.Context(), id, req.Count)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.copies.remove", "success", "book_id", id, "count", len(removed))
	writeList(w, removed)
}

func (s *Server) handleGetCopy(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	c, err := s.app.GetCopy(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSetCopyStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req copyStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	c, err := s.app.SetCopyStatus(r.Context(), id, req.Status, req.Note)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.copy.status", "success", "copy_id", id, "status", string(c.Status))
	writeJSON(w, http.StatusOK, c)
}

// authors

func (s *Server) handleListAuthors(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.ListAuthors(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleGetAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	item, err := s.app.GetAuthor(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleAuthorBooks(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	books, err := s.app.AuthorBooks(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, books)
}

func (s *Server) handleCreateAuthor(w http.ResponseWriter, r *http.Request) {
	var req domain.Author
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	item, err := s.app.CreateAuthor(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.author.create", "success", "author_id", item.ID)
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req domain.Author
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	req.ID = id
	item, err := s.app.UpdateAuthor(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.author.update", "success", "author_id", id)
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.app.DeleteAuthor(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.author.delete", "success", "author_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// publishers

func (s *Server) handleListPublishers(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.ListPublishers(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleGetPublisher(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	item, err := s.app.GetPublisher(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handlePublisherBooks(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	books, err := s.app.PublisherBooks(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, books)
}

func (s *Server) handleCreatePublisher(w http.ResponseWriter, r *http.Request) {
	var req domain.Publisher
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	item, err := s.app.CreatePublisher(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.publisher.create", "success", "publisher_id", item.ID)
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdatePublisher(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req domain.Publisher
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	req.ID = id
	item, err := s.app.UpdatePublisher(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.publisher.update", "success", "publisher_id", id)
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeletePublisher(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.app.DeletePublisher(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.publisher.delete", "success", "publisher_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// categories

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.ListCategories(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	item, err := s.app.GetCategory(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleCategoryBooks(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	books, err := s.app.CategoryBooks(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, books)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req domain.Category
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	item, err := s.app.CreateCategory(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.category.create", "success", "category_id", item.ID)
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req domain.Category
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	req.ID = id
	item, err := s.app.UpdateCategory(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.category.update", "success", "category_id", id)
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.app.DeleteCategory(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.category.delete", "success", "category_id", id)
	w.WriteHeader(http.StatusNoContent)
}
